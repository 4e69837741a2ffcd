package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/formscan/permit-ocr-service/api"
	"github.com/formscan/permit-ocr-service/internal/ai"
	"github.com/formscan/permit-ocr-service/internal/db"
	"github.com/formscan/permit-ocr-service/internal/extract"
	"github.com/formscan/permit-ocr-service/internal/models"
	"github.com/formscan/permit-ocr-service/internal/ocr"
	"github.com/formscan/permit-ocr-service/internal/pipeline"
	"github.com/formscan/permit-ocr-service/internal/schema"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file (empty for env only)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("server.exit", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	if _, err := os.Stat(configPath); configPath != "" && errors.Is(err, os.ErrNotExist) {
		logger.Warn("config.missing", "path", configPath)
		configPath = ""
	}
	config, err := models.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fields, err := schema.Load(config.SchemaFile)
	if err != nil {
		return err
	}

	providers, err := ai.NewProviders(ctx, config.AI)
	if err != nil {
		return fmt.Errorf("failed to create AI providers: %w", err)
	}
	defer func() {
		if err := ai.CloseAll(providers); err != nil {
			logger.Warn("ai.close", "error", err)
		}
	}()

	// Database is optional: without it the service runs without the audit log
	var store api.RunStore
	dbStore, err := db.Open(ctx, config.DatabaseURL, logger)
	switch {
	case errors.Is(err, db.ErrNotConfigured):
		logger.Info("db.disabled", "reason", "no database configuration")
	case err != nil:
		logger.Warn("db.unavailable", "error", err)
	default:
		defer dbStore.Close()
		if err := dbStore.EnsureSchema(ctx); err != nil {
			return err
		}
		store = dbStore
	}

	pipeCfg, err := pipeline.ConfigFrom(config.Pipeline)
	if err != nil {
		return err
	}
	engine := ocr.NewTesseractOCR(config.OCR)
	opts := []pipeline.Option{pipeline.WithOCR(engine), pipeline.WithLogger(logger)}
	if p, ok := providers[config.AI.DefaultProvider]; ok {
		opts = append(opts, pipeline.WithModel(extract.NewModel(p, ai.Options{
			Temperature: config.AI.Temperature,
			MaxTokens:   config.AI.MaxTokens,
		})))
	}
	pipe, err := pipeline.New(fields, pipeCfg, opts...)
	if err != nil {
		return err
	}

	handler := api.NewHandler(config, api.Deps{
		Pipeline:  pipe,
		Providers: providers,
		OCR:       engine,
		Store:     store,
		Logger:    logger,
	})

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("server.start",
		"addr", addr,
		"version", api.Version,
		"mode", pipeCfg.Mode,
		"default_provider", config.AI.DefaultProvider,
		"ocr_language", config.OCR.Language,
		"audit", store != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server.shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
