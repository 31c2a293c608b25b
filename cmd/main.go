package main

import (
	"context"
	"log"

	"go.uber.org/dig"

	"github.com/davidbz/hearth/internal/config"
	"github.com/davidbz/hearth/internal/domain"
	"github.com/davidbz/hearth/internal/http"
	"github.com/davidbz/hearth/internal/http/middleware"
	"github.com/davidbz/hearth/internal/observability"
	"github.com/davidbz/hearth/internal/provider/openai"
	"github.com/davidbz/hearth/internal/ratelimit"
	"github.com/davidbz/hearth/internal/secrets"
	gormstore "github.com/davidbz/hearth/internal/store/gorm"

	"github.com/redis/go-redis/v9"
)

func main() {
	container := buildContainer()

	err := container.Invoke(func(server *http.Server) {
		if err := server.Start(); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
}

func buildContainer() *dig.Container {
	container := dig.New()

	// Configuration
	if err := container.Provide(config.Load); err != nil {
		log.Fatalf("Failed to provide config: %v", err)
	}
	if err := container.Provide(config.ParseDependenciesConfig); err != nil {
		log.Fatalf("Failed to provide config dependencies: %v", err)
	}

	// Observability
	if err := container.Provide(observability.InitLogger); err != nil {
		log.Fatalf("Failed to provide logger: %v", err)
	}

	// Token cipher
	if err := container.Provide(func(cfg *config.SecretsConfig) (domain.TokenCipher, error) {
		if cfg.EncryptionKey == "" {
			observability.FromContext(context.Background()).Warn(
				"LLM_ENCRYPTION_KEY is empty, stored API tokens will not survive a restart")
		}
		return secrets.NewCipher(cfg.EncryptionKey)
	}); err != nil {
		log.Fatalf("Failed to provide token cipher: %v", err)
	}

	// Storage
	if err := container.Provide(gormstore.Open); err != nil {
		log.Fatalf("Failed to provide store: %v", err)
	}
	if err := container.Provide(func(s *gormstore.Store) domain.ConversationStore {
		return s
	}); err != nil {
		log.Fatalf("Failed to provide conversation store: %v", err)
	}
	if err := container.Provide(func(s *gormstore.Store) domain.ConfigStore {
		return s
	}); err != nil {
		log.Fatalf("Failed to provide config store: %v", err)
	}

	// Rate limiter: shared Redis window when an address is configured,
	// in-process window otherwise.
	if err := container.Provide(func(
		redisCfg *config.RedisConfig,
		limitCfg *config.RateLimitConfig,
	) domain.RateLimiter {
		window := limitCfg.Window()

		if redisCfg.Addr == "" {
			observability.FromContext(context.Background()).Info(
				"using in-process rate limiter",
				observability.Int("limit", limitCfg.Limit))
			return ratelimit.NewMemoryLimiter(limitCfg.Limit, window)
		}

		client := redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
		observability.FromContext(context.Background()).Info(
			"using redis rate limiter",
			observability.String("addr", redisCfg.Addr),
			observability.Int("limit", limitCfg.Limit))
		return ratelimit.NewRedisLimiter(client, limitCfg.Limit, window)
	}); err != nil {
		log.Fatalf("Failed to provide rate limiter: %v", err)
	}

	// Upstream completion client
	if err := container.Provide(func() domain.CompletionClient {
		return openai.NewClient()
	}); err != nil {
		log.Fatalf("Failed to provide completion client: %v", err)
	}

	// Domain Services
	if err := container.Provide(domain.NewChatService); err != nil {
		log.Fatalf("Failed to provide chat service: %v", err)
	}

	// HTTP Layer
	if err := container.Provide(middleware.BuildMiddlewareChain); err != nil {
		log.Fatalf("Failed to provide middleware chain: %v", err)
	}
	if err := container.Provide(http.NewHandler); err != nil {
		log.Fatalf("Failed to provide HTTP handler: %v", err)
	}
	if err := container.Provide(http.NewServer); err != nil {
		log.Fatalf("Failed to provide HTTP server: %v", err)
	}

	return container
}
