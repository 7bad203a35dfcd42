package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/xaenox/edubot/internal/ai"
	"github.com/xaenox/edubot/internal/bot"
	"github.com/xaenox/edubot/internal/engine"
	"github.com/xaenox/edubot/internal/extract"
	"github.com/xaenox/edubot/internal/metrics"
	"github.com/xaenox/edubot/pkg/config"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("%w: telegram token", engine.ErrMissingCredential)
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	// Initialize storage
	store, err := openStorage(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	maxImage, err := cfg.Image.MaxSizeBytes()
	if err != nil {
		return err
	}
	maxBody, err := cfg.Extract.MaxBodyBytes()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := engine.Options{
		Extractor: extract.NewClient(extract.Config{Timeout: cfg.Extract.Timeout, MaxBody: maxBody}, logger),
		Metrics:   metrics.New(reg),
	}

	client, err := ai.NewClient(ai.Config{
		APIKey:            cfg.OpenAI.APIKey,
		BaseURL:           cfg.OpenAI.BaseURL,
		Model:             cfg.OpenAI.Model,
		VisionModel:       cfg.OpenAI.VisionModel,
		ImageModel:        cfg.OpenAI.ImageModel,
		MaxTokens:         cfg.OpenAI.MaxTokens,
		Temperature:       cfg.OpenAI.Temperature,
		RequestsPerMinute: cfg.OpenAI.RequestsPerMinute,
	}, logger)
	switch {
	case errors.Is(err, ai.ErrMissingAPIKey):
		logger.Warn("OpenAI API key is not set, replies and image features are disabled")
	case err != nil:
		return err
	default:
		opts.Completer = client
		opts.Captioner = client
		opts.ImageGenerator = client
	}

	// Replies are attributed by username, so the engine speaks as the Telegram account.
	botName := api.Self.UserName
	if botName == "" {
		botName = cfg.Engine.BotName
	}

	eng, err := engine.New(ctx, engine.Config{
		BotName:          botName,
		Platform:         cfg.Engine.Platform,
		Personality:      cfg.Engine.Personality,
		Model:            cfg.OpenAI.Model,
		MaxContextTokens: cfg.Engine.MaxContextTokens,
		FeedbackWindow:   cfg.Engine.FeedbackWindow,
		MaxImageSize:     maxImage,
	}, store, opts, logger)
	if err != nil {
		return err
	}

	metricsServer := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsHandler(reg)}
	go func() {
		logger.Info("Serving metrics", zap.String("addr", cfg.Metrics.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	// Start the bot
	b := bot.New(api, eng, cfg.Telegram.WindowSize, logger)
	return b.Start(ctx)
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
