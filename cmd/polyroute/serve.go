package main

import (
	"context"

	"github.com/polyroute/polyroute/internal/app"
	"github.com/polyroute/polyroute/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var (
		httpAddr    string
		catalogType string
		noFrequency bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and the frequency map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.HTTP.Addr = httpAddr
			}
			if catalogType != "" {
				cfg.Catalog.Type = catalogType
				cfg.Resolve()
			}
			if noFrequency {
				cfg.Frequency.Enabled = false
			}

			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("starting polyroute",
				zap.String("version", version),
				zap.String("data_dir", cfg.DataDir),
				zap.String("catalog", cfg.Catalog.Type),
				zap.String("storage", cfg.Storage.Type))

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := application.Start(ctx); err != nil {
				return err
			}
			return application.WaitForShutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "listen address of the admin API")
	cmd.Flags().StringVar(&catalogType, "catalog", "", "catalog backend: memory, sqlite")
	cmd.Flags().BoolVar(&noFrequency, "no-frequency", false, "disable partition access frequency tracking")
	return cmd
}
