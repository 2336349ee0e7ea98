package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pacerhq/pacer/internal/actor"
	"github.com/pacerhq/pacer/internal/api"
	"github.com/pacerhq/pacer/internal/command"
	"github.com/pacerhq/pacer/internal/config"
	"github.com/pacerhq/pacer/internal/gateway"
	"github.com/pacerhq/pacer/internal/llm"
	"github.com/pacerhq/pacer/internal/ratelimit"
	msgrouter "github.com/pacerhq/pacer/internal/router"
	"github.com/pacerhq/pacer/internal/state"
)

func newLogger(mode string) *zap.Logger {
	if mode == "production" {
		logger, _ := zap.NewProduction()
		return logger
	}
	logger, _ := zap.NewDevelopment()
	return logger
}

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/pacer.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger = newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	logger.Info("Starting pacer", zap.String("config", cfgPath))

	// Storage backend
	var st state.Store
	switch cfg.Store.Backend {
	case "memory":
		st = state.NewMemory()
		logger.Info("Using in-memory store")
	case "redis":
		st, err = state.NewRedis(cfg.Store.RedisURL, logger)
		if err != nil {
			logger.Fatal("redis store init failed", zap.Error(err))
		}
	case "postgres":
		st, err = state.NewPostgres(cfg.Store.PostgresDSN, logger)
		if err != nil {
			logger.Fatal("postgres store init failed", zap.Error(err))
		}
	default:
		logger.Fatal("unknown store backend", zap.String("backend", cfg.Store.Backend))
	}

	// Inference client
	client, err := llm.NewClient(llm.Config{
		Type:     cfg.Provider.Type,
		Endpoint: cfg.Provider.Endpoint,
		APIKey:   cfg.Provider.APIKey,
		Model:    cfg.Provider.Model,
		Timeout:  time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal("provider init failed", zap.Error(err))
	}

	limiter := ratelimit.New(st, cfg.Limits.DailyRequests,
		time.Duration(cfg.Limits.WindowHours)*time.Hour)
	dispatcher := actor.NewDispatcher(st, limiter, client, cfg.Chat.SystemPrompt, logger)

	// Slash commands
	commands := command.NewRegistry()
	command.RegisterBuiltins(commands, dispatcher, st)

	// Gateway: wire the router before adapters start delivering
	gw := gateway.NewGateway(logger)
	msgRouter := msgrouter.New(dispatcher, gw, st, commands, logger)
	gw.SetHandler(msgRouter.Handle)

	restAdapter := gateway.NewRESTAdapter(logger)
	gw.Register(restAdapter)

	if cfg.Gateway.Slack.Enabled && cfg.Gateway.Slack.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.AppToken, logger))
	}
	if cfg.Gateway.Discord.Enabled && cfg.Gateway.Discord.BotToken != "" {
		gw.Register(gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, logger))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	// HTTP server
	handler := api.NewHandler(dispatcher, restAdapter, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("pacer listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down pacer")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
	}

	gw.Close()
	if err := st.Close(); err != nil {
		logger.Error("store close failed", zap.Error(err))
	}
}
