package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/hearth/internal/config"
	"github.com/davidbz/hearth/internal/domain"
	"github.com/davidbz/hearth/internal/http/middleware"
	"github.com/davidbz/hearth/internal/ratelimit"
	"github.com/davidbz/hearth/internal/secrets"
	gormstore "github.com/davidbz/hearth/internal/store/gorm"
)

// stubCompletion stands in for the upstream LLM.
type stubCompletion struct {
	reply string
	err   error
	calls int
}

func (c *stubCompletion) Complete(_ context.Context, _ *domain.Config, _ []domain.Message) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

type testEnv struct {
	t       *testing.T
	server  *httptest.Server
	client  *stubCompletion
	configs domain.ConfigStore
}

// newTestEnv wires the real store, cipher, limiter and middleware chain around
// a stubbed upstream, and seeds one system-wide default configuration.
func newTestEnv(t *testing.T, limit int) *testEnv {
	t.Helper()

	cipher, err := secrets.NewCipher("test-passphrase")
	require.NoError(t, err)

	store, err := gormstore.Open(&config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "hearth.db"),
	}, cipher)
	require.NoError(t, err)

	client := &stubCompletion{reply: "Hello there"}
	limiter := ratelimit.NewMemoryLimiter(limit, time.Minute)
	chat := domain.NewChatService(store, store, limiter, client)

	srv := NewServer(
		&config.ServerConfig{Port: 0, ReadTimeout: 5, WriteTimeout: 5},
		NewHandler(chat),
		middleware.BuildMiddlewareChain(&config.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		}),
	)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	_, err = store.CreateConfig(context.Background(), &domain.Config{
		Name:      "default",
		APIToken:  "secret-token",
		IsDefault: true,
		Active:    true,
	})
	require.NoError(t, err)

	return &testEnv{t: t, server: ts, client: client, configs: store}
}

// do performs a request as the given user. userID zero sends no identity
// headers; admin adds the admin role.
func (e *testEnv) do(method, path string, userID uint, admin bool, body any) (int, map[string]any) {
	e.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("X-User-Id", fmt.Sprintf("%d", userID))
	}
	if admin {
		req.Header.Set("X-User-Roles", "admin")
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(e.t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func (e *testEnv) chat(userID uint, message string) uint {
	e.t.Helper()
	status, body := e.do(http.MethodPost, "/llm/chat", userID, false,
		map[string]any{"message": message})
	require.Equal(e.t, http.StatusOK, status)
	return uint(body["conversation_id"].(float64))
}

func TestHealthNeedsNoIdentity(t *testing.T) {
	env := newTestEnv(t, 20)

	status, body := env.do(http.MethodGet, "/health", 0, false, nil)

	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "healthy", body["status"])
}

func TestMissingIdentityRejected(t *testing.T) {
	env := newTestEnv(t, 20)

	status, body := env.do(http.MethodPost, "/llm/chat", 0, false,
		map[string]any{"message": "Hi"})

	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Authentication required", body["error"])
}

func TestChatRoundTrip(t *testing.T) {
	env := newTestEnv(t, 20)

	status, body := env.do(http.MethodPost, "/llm/chat", 1, false,
		map[string]any{"message": "Hi"})

	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Hello there", body["response"])
	conversationID := uint(body["conversation_id"].(float64))
	require.NotZero(t, conversationID)

	status, body = env.do(http.MethodGet, "/llm/conversations", 1, false, nil)
	require.Equal(t, http.StatusOK, status)
	conversations := body["conversations"].([]any)
	require.Len(t, conversations, 1)
	first := conversations[0].(map[string]any)
	require.Equal(t, "Hi", first["name"])
	require.Equal(t, float64(2), first["message_count"])

	status, body = env.do(http.MethodGet,
		fmt.Sprintf("/llm/conversation/%d/messages", conversationID), 1, false, nil)
	require.Equal(t, http.StatusOK, status)
	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	require.Equal(t, domain.RoleUser, messages[0].(map[string]any)["role"])
	require.Equal(t, "Hi", messages[0].(map[string]any)["content"])
	require.Equal(t, domain.RoleAssistant, messages[1].(map[string]any)["role"])
}

func TestChatContinuesConversation(t *testing.T) {
	env := newTestEnv(t, 20)

	conversationID := env.chat(1, "First")

	status, body := env.do(http.MethodPost, "/llm/chat", 1, false,
		map[string]any{"conversation_id": conversationID, "message": "Second"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(conversationID), body["conversation_id"])

	status, body = env.do(http.MethodGet,
		fmt.Sprintf("/llm/conversation/%d/messages", conversationID), 1, false, nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["messages"].([]any), 4)
}

// The chat widget sends conversation_id as false or null when no conversation
// is open yet; both must start a fresh one.
func TestChatLooseConversationID(t *testing.T) {
	env := newTestEnv(t, 20)

	for _, raw := range []string{
		`{"conversation_id": false, "message": "Hi"}`,
		`{"conversation_id": null, "message": "Hi"}`,
	} {
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/llm/chat",
			strings.NewReader(raw))
		require.NoError(t, err)
		req.Header.Set("X-User-Id", "1")

		resp, err := env.server.Client().Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	status, body := env.do(http.MethodGet, "/llm/conversations", 1, false, nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["conversations"].([]any), 2)
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t, 20)

	status, body := env.do(http.MethodPost, "/llm/chat", 1, false,
		map[string]any{"message": "   "})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Message cannot be empty", body["error"])

	status, body = env.do(http.MethodPost, "/llm/chat", 1, false,
		map[string]any{"message": strings.Repeat("a", domain.MaxMessageLength+1)})
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body["error"], "Message too long")

	require.Zero(t, env.client.calls)
}

func TestCrossUserAccess(t *testing.T) {
	env := newTestEnv(t, 20)

	conversationID := env.chat(1, "Mine")
	path := fmt.Sprintf("/llm/conversation/%d/messages", conversationID)

	status, body := env.do(http.MethodGet, path, 2, false, nil)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "Unauthorized access", body["error"])

	// Admins may read other users' conversations.
	status, _ = env.do(http.MethodGet, path, 2, true, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = env.do(http.MethodGet, "/llm/conversation/9999/messages", 1, false, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "Conversation not found", body["error"])
}

func TestRateLimitEnforced(t *testing.T) {
	env := newTestEnv(t, 1)

	env.chat(1, "First")

	status, body := env.do(http.MethodPost, "/llm/chat", 1, false,
		map[string]any{"message": "Second"})
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, "Too many requests. Please wait a moment and try again", body["error"])

	// Another user's window is untouched.
	env.chat(2, "Hello")
}

func TestClearConversation(t *testing.T) {
	env := newTestEnv(t, 20)

	conversationID := env.chat(1, "Hi")

	status, body := env.do(http.MethodPost,
		fmt.Sprintf("/llm/conversation/%d/clear", conversationID), 1, false, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["cleared"])

	status, body = env.do(http.MethodGet,
		fmt.Sprintf("/llm/conversation/%d/messages", conversationID), 1, false, nil)
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, body["messages"])

	status, body = env.do(http.MethodGet, "/llm/conversations", 1, false, nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["conversations"].([]any), 1)
}

func TestArchiveConversation(t *testing.T) {
	env := newTestEnv(t, 20)

	conversationID := env.chat(1, "Hi")

	status, body := env.do(http.MethodDelete,
		fmt.Sprintf("/llm/conversation/%d", conversationID), 1, false, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["archived"])

	status, body = env.do(http.MethodGet, "/llm/conversations", 1, false, nil)
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, body["conversations"])
}

func TestUpstreamFailureSanitized(t *testing.T) {
	env := newTestEnv(t, 20)
	env.client.err = domain.UpstreamError(500)

	status, body := env.do(http.MethodPost, "/llm/chat", 1, false,
		map[string]any{"message": "Hi"})

	require.Equal(t, http.StatusBadGateway, status)
	require.Contains(t, body["error"], "status 500")

	// The user turn survives the failed completion.
	statusList, list := env.do(http.MethodGet, "/llm/conversations", 1, false, nil)
	require.Equal(t, http.StatusOK, statusList)
	conversations := list["conversations"].([]any)
	require.Len(t, conversations, 1)
	require.Equal(t, float64(1), conversations[0].(map[string]any)["message_count"])
}

func TestCreateConfig(t *testing.T) {
	env := newTestEnv(t, 20)

	status, body := env.do(http.MethodPost, "/llm/configs", 1, true, map[string]any{
		"name":      "lmstudio",
		"base_url":  "http://localhost:1234/v1",
		"model":     "qwen2.5",
		"api_token": "super-secret",
	})

	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "lmstudio", body["name"])
	require.Equal(t, domain.DefaultTemperature, body["temperature"])
	require.NotContains(t, body, "api_token")

	status, body = env.do(http.MethodGet, "/llm/configs", 1, true, nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["configs"].([]any), 2)
}

func TestCreateConfigScopeForbidden(t *testing.T) {
	env := newTestEnv(t, 20)

	status, body := env.do(http.MethodPost, "/llm/configs", 1, false, map[string]any{
		"name":    "sneaky",
		"user_id": 2,
	})

	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "Unauthorized access", body["error"])
}

func TestTestConfigProbe(t *testing.T) {
	env := newTestEnv(t, 20)

	status, body := env.do(http.MethodPost, "/llm/configs/1/test", 1, false, nil)

	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, 1, env.client.calls)
}

func TestInvalidPathID(t *testing.T) {
	env := newTestEnv(t, 20)

	status, body := env.do(http.MethodGet, "/llm/conversation/abc/messages", 1, false, nil)

	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Invalid conversation id", body["error"])
}
