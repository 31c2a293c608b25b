package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/hearth/internal/domain"
	"github.com/davidbz/hearth/internal/provider/openai"
)

func testConfig(baseURL string) *domain.Config {
	return &domain.Config{
		BaseURL:      baseURL,
		Model:        "llama3.2",
		APIToken:     "ollama",
		Temperature:  0.7,
		MaxTokens:    256,
		Timeout:      5 * time.Second,
		SystemPrompt: "You are a helpful assistant.",
	}
}

func completionBody(content string) string {
	return `{
		"id": "chatcmpl-test",
		"object": "chat.completion",
		"created": 1736000000,
		"model": "llama3.2",
		"choices": [
			{
				"index": 0,
				"message": {"role": "assistant", "content": ` + mustJSON(content) + `},
				"finish_reason": "stop"
			}
		],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestComplete_Success(t *testing.T) {
	var captured struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
	}
	var authHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		authHeader = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("Hello there")))
	}))
	defer server.Close()

	client := openai.NewClient()
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "Hi"},
		{Role: domain.RoleAssistant, Content: "Hello!"},
		{Role: domain.RoleUser, Content: "How are you?"},
	}

	text, err := client.Complete(context.Background(), testConfig(server.URL+"/v1"), history)
	require.NoError(t, err)
	require.Equal(t, "Hello there", text)

	require.Equal(t, "Bearer ollama", authHeader)
	require.Equal(t, "llama3.2", captured.Model)
	require.InDelta(t, 0.7, captured.Temperature, 0.0001)
	require.Equal(t, 256, captured.MaxTokens)

	// System prompt first, then the ordered history.
	require.Len(t, captured.Messages, 4)
	require.Equal(t, "system", captured.Messages[0].Role)
	require.Equal(t, "You are a helpful assistant.", captured.Messages[0].Content)
	require.Equal(t, "user", captured.Messages[1].Role)
	require.Equal(t, "assistant", captured.Messages[2].Role)
	require.Equal(t, "user", captured.Messages[3].Role)
	require.Equal(t, "How are you?", captured.Messages[3].Content)
}

func TestComplete_ZeroTemperatureSentUpstream(t *testing.T) {
	var body map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("ok")))
	}))
	defer server.Close()

	cfg := testConfig(server.URL + "/v1")
	cfg.Temperature = 0.0

	client := openai.NewClient()
	_, err := client.Complete(context.Background(), cfg, []domain.Message{
		{Role: domain.RoleUser, Content: "Hi"},
	})
	require.NoError(t, err)

	// Deterministic sampling is an explicit value, not an omitted field.
	temperature, ok := body["temperature"]
	require.True(t, ok, "temperature must be present in the request body")
	require.InDelta(t, 0.0, temperature.(float64), 0.0001)
}

func TestComplete_NoSystemPromptOmitsSystemMessage(t *testing.T) {
	var roles []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role string `json:"role"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		for _, m := range body.Messages {
			roles = append(roles, m.Role)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("ok")))
	}))
	defer server.Close()

	cfg := testConfig(server.URL + "/v1")
	cfg.SystemPrompt = ""

	client := openai.NewClient()
	_, err := client.Complete(context.Background(), cfg, []domain.Message{
		{Role: domain.RoleUser, Content: "Hi"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"user"}, roles)
}

func TestComplete_MalformedBodyIsFormatError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "object": "chat.completion", "choices": []}`))
	}))
	defer server.Close()

	client := openai.NewClient()
	_, err := client.Complete(context.Background(), testConfig(server.URL+"/v1"), []domain.Message{
		{Role: domain.RoleUser, Content: "Hi"},
	})
	require.ErrorIs(t, err, domain.ErrFormat)
}

func TestComplete_UpstreamStatusIsSanitized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"message": "internal secret detail"}}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	client := openai.NewClient()
	_, err := client.Complete(context.Background(), testConfig(server.URL+"/v1"), []domain.Message{
		{Role: domain.RoleUser, Content: "Hi"},
	})
	require.ErrorIs(t, err, domain.ErrUpstream)

	// The upstream body never leaks into the user-facing message.
	require.NotContains(t, err.Error(), "internal secret detail")
	require.Contains(t, err.Error(), "status 500")
}

func TestComplete_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	baseURL := server.URL + "/v1"
	server.Close()

	client := openai.NewClient()
	_, err := client.Complete(context.Background(), testConfig(baseURL), []domain.Message{
		{Role: domain.RoleUser, Content: "Hi"},
	})
	require.ErrorIs(t, err, domain.ErrConnection)
}

func TestComplete_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody("late")))
	}))
	defer server.Close()

	cfg := testConfig(server.URL + "/v1")
	cfg.Timeout = 50 * time.Millisecond

	client := openai.NewClient()
	_, err := client.Complete(context.Background(), cfg, []domain.Message{
		{Role: domain.RoleUser, Content: "Hi"},
	})
	require.ErrorIs(t, err, domain.ErrTimeout)
}
