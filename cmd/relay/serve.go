package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teilomillet/relay/errors"
	"github.com/teilomillet/relay/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, source, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			errors.SetLogger(logger)

			logger.Info("starting relay",
				zap.String("version", version),
				zap.String("config", source),
				zap.Int("port", cfg.Server.Port),
				zap.String("webhook_path", cfg.Server.WebhookPath),
				zap.String("provider", cfg.LLM.Provider),
				zap.String("model", cfg.LLM.Model),
			)

			app, err := server.New(cfg, logger)
			if err != nil {
				logger.Error("initialization failed", zap.Error(err))
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := app.Run(ctx); err != nil {
				logger.Error("server stopped with error", zap.Error(err))
				return err
			}
			return nil
		},
	}
}
