package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/jo-hoe/medisnap/internal/analyzer"
	appcfg "github.com/jo-hoe/medisnap/internal/config"
	"github.com/jo-hoe/medisnap/internal/history"
	"github.com/jo-hoe/medisnap/internal/llm"
	"github.com/jo-hoe/medisnap/internal/llm/aiproxy"
	"github.com/jo-hoe/medisnap/internal/llm/mock"
	"github.com/jo-hoe/medisnap/internal/llm/openai"
	"github.com/jo-hoe/medisnap/internal/server"
	"github.com/jo-hoe/medisnap/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to $MEDISNAP_CONFIG, then ./config.yaml)")
	flag.Parse()

	// .env is optional
	envErr := godotenv.Load()

	// Load config
	cfg, err := appcfg.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	// Logger
	level, _ := appcfg.ParseLogLevel(cfg.Server.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("load .env", "err", envErr)
	}

	// LLM client
	var llmClient llm.Client
	switch cfg.LLM.Provider {
	case appcfg.ProviderOpenAI:
		llmClient = openai.New(cfg.LLM.OpenAI, cfg.LLM.MaxTokens)
	case appcfg.ProviderAIProxy:
		llmClient = aiproxy.New(cfg.LLM.AIProxy, cfg.LLM.MaxTokens)
	case appcfg.ProviderMock:
		llmClient = mock.New(cfg.LLM.Mock)
	default:
		logger.Error("unsupported llm provider", "provider", cfg.LLM.Provider)
		os.Exit(1)
	}
	llmClient = llm.WithPolicies(llmClient, logger, cfg.LLM)

	// History (SQLite, optional)
	var store history.Store
	if cfg.History.Enabled {
		s, err := history.NewSQLiteStore(cfg.History.DatabasePath)
		if err != nil {
			logger.Error("sqlite open", "path", cfg.History.DatabasePath, "err", err)
			os.Exit(1)
		}
		defer func() { _ = s.Close() }()
		store = s
	}

	uploader := storage.NewUploader(cfg.Server.StorageDir)
	an := analyzer.New(logger, llmClient, store, cfg.LLM.Prompt, cfg.Analysis.StrictSchema, cfg.Server.DeleteUploads)

	// HTTP server
	svc := &server.Service{
		Log:      logger,
		Cfg:      cfg,
		Uploader: uploader,
		Analyzer: an,
		Store:    store,
	}
	httpSrv := server.NewHTTPServer(svc)

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting",
			"address", cfg.Server.Addr,
			"provider", cfg.LLM.Provider,
			"uploads", uploader.Dir(),
			"history", cfg.History.Enabled)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	logger.Info("server stopped")
}
