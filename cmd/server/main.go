// Command server runs the Antigravity-compatible gateway: it loads config,
// connects Postgres and Redis, builds the TokenPool and ProxyOrchestrator,
// and serves the OpenAI/Anthropic/Gemini HTTP surfaces over gin.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/config"
	"github.com/antigravity-gateway/gateway/internal/handler"
	"github.com/antigravity-gateway/gateway/internal/orchestrator"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
	"github.com/antigravity-gateway/gateway/internal/pool"
	"github.com/antigravity-gateway/gateway/internal/repository"
	"github.com/antigravity-gateway/gateway/internal/server/routes"
	"github.com/antigravity-gateway/gateway/internal/setup"
	"github.com/antigravity-gateway/gateway/internal/upstream"
)

func main() {
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := setup.ConnectPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}

	rdb, err := setup.ConnectRedis(cfg.Redis)
	if err != nil {
		log.Printf("WARN: redis unavailable, sticky sessions are single-process only: %v", err)
		rdb = nil
	}

	accountRepo := repository.NewAccountRepository(db)
	refresher := gemini.NewRefresher(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, nil)

	tokenPool := pool.New(accountRepo, refresher)
	if rdb != nil {
		tokenPool.SetSessionCache(repository.NewRedisSessionCache(rdb))
	}
	if err := tokenPool.Reload(context.Background()); err != nil {
		log.Printf("WARN: initial pool reload failed: %v", err)
	}

	upstreamClient := upstream.New(cfg)
	orch := orchestrator.New(tokenPool, upstreamClient, cfg)

	openaiH := handler.NewOpenAIHandler(orch)
	anthropicH := handler.NewAnthropicHandler(orch)
	geminiH := handler.NewGeminiHandler(orch)

	if cfg.Proxy.Port == 0 {
		cfg.Proxy.Port = 8045
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	routes.Register(engine, openaiH, anthropicH, geminiH, cfg.Proxy.APIKey)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Proxy.Port),
		Handler:      engine,
		ReadTimeout:  cfg.RequestTimeoutDuration(),
		WriteTimeout: 0, // streaming responses run open-ended
	}

	go func() {
		log.Printf("gateway listening on :%d", cfg.Proxy.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
