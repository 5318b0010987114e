package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/svaboev-coder/collecting-contacts/internal/api"
	"github.com/svaboev-coder/collecting-contacts/internal/db"
	"github.com/svaboev-coder/collecting-contacts/internal/gateway"
	"github.com/svaboev-coder/collecting-contacts/internal/session"
	"github.com/svaboev-coder/collecting-contacts/internal/store"
	"github.com/svaboev-coder/collecting-contacts/internal/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: failed to build: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var contacts store.ContactStore = store.NewMemoryStore()

	if cfg.Postgres.DSN != "" || os.Getenv("POSTGRES_HOST") != "" {
		postgres, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			sugar.Fatalf("postgres: failed to connect: %v", err)
		}
		defer postgres.Close()

		if err := postgres.Ping(ctx); err != nil {
			sugar.Fatalf("postgres: ping failed: %v", err)
		}
		if err := postgres.EnsureSchema(ctx); err != nil {
			sugar.Fatalf("postgres: ensure schema: %v", err)
		}
		contacts = db.NewContactStore(postgres)
		sugar.Infow("contact store ready", "backend", "postgres")
	} else {
		sugar.Infow("contact store ready", "backend", "memory")
	}

	if cfg.Redis.Addr != "" {
		redisClient, err := store.NewRedisClient(ctx, cfg.Redis.Addr)
		if err != nil {
			sugar.Fatalf("redis: failed to connect: %v", err)
		}
		defer redisClient.Close()
		contacts = store.NewCachedStore(contacts, redisClient, cfg.Redis.CacheTTL, sugar)
		sugar.Infow("contact cache enabled", "addr", cfg.Redis.Addr)
	}

	var archiver session.Archiver
	if cfg.Mongo.URI != "" {
		mongoStore, err := db.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			sugar.Fatalf("mongo: failed to connect: %v", err)
		}
		defer func() {
			if err := mongoStore.Close(context.Background()); err != nil {
				sugar.Warnf("mongo: close error: %v", err)
			}
		}()

		if err := mongoStore.EnsureCollections(ctx); err != nil {
			sugar.Fatalf("mongo: ensure collections: %v", err)
		}
		archiver = mongoStore
		sugar.Infow("session archive enabled", "database", cfg.Mongo.Database)
	}

	completer := gateway.NewClient(gateway.Config{
		BaseURL:     cfg.Provider.BaseURL,
		APIKey:      cfg.Provider.APIKey,
		Model:       cfg.Provider.Model,
		Timeout:     cfg.Provider.Timeout,
		MaxAttempts: cfg.Provider.MaxAttempts,
		Temperature: cfg.Provider.Temperature,
		MaxTokens:   cfg.Provider.MaxTokens,
	}, sugar)

	manager := session.NewManager(cfg.Conversation, completer, contacts, archiver, sugar)
	manager.StartSweeper(ctx)

	router := setupRouter(manager, contacts, sugar)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infof("server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("server crashed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnf("graceful shutdown failed: %v", err)
	}

	sugar.Info("server stopped cleanly")
}

func setupRouter(manager *session.Manager, contacts store.ContactStore, sugar *zap.SugaredLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	api.NewHandler(manager, contacts, sugar).RegisterRoutes(router)

	return router
}
