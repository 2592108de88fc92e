package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/polyroute/polyroute/internal/app"
	"github.com/polyroute/polyroute/internal/snapshot"
	"github.com/spf13/cobra"
)

func newSnapshotCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Archive and inspect catalog snapshots",
	}
	cmd.AddCommand(newSnapshotExportCommand(flags), newSnapshotShowCommand(flags), newSnapshotRestoreCommand(flags))
	return cmd
}

func newSnapshotExportCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "export [object-path]",
		Short: "Export the catalog to snapshot storage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			objectPath := fmt.Sprintf("snapshots/catalog-%s.snap", time.Now().UTC().Format("20060102T150405Z"))
			if len(args) == 1 {
				objectPath = args[0]
			}

			ctx := cmd.Context()
			cat, err := app.OpenCatalog(cfg)
			if err != nil {
				return err
			}
			defer cat.Close()
			store, err := app.OpenStorage(ctx, cfg)
			if err != nil {
				return err
			}

			snap, err := snapshot.Export(ctx, cat, store, objectPath)
			if err != nil {
				return err
			}
			return printSummary(cmd, objectPath, snapshot.Summarize(snap))
		},
	}
}

func newSnapshotShowCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <object-path>",
		Short: "Print a summary of an archived snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := app.OpenStorage(ctx, cfg)
			if err != nil {
				return err
			}
			snap, err := snapshot.Load(ctx, store, args[0])
			if err != nil {
				return err
			}
			return printSummary(cmd, args[0], snapshot.Summarize(snap))
		},
	}
}

func newSnapshotRestoreCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <object-path>",
		Short: "Restore an archived snapshot into an empty catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.Catalog.Type == "memory" {
				return fmt.Errorf("restore needs a persistent catalog, got %q", cfg.Catalog.Type)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := app.OpenStorage(ctx, cfg)
			if err != nil {
				return err
			}
			snap, err := snapshot.Load(ctx, store, args[0])
			if err != nil {
				return err
			}
			cat, err := app.OpenCatalog(cfg)
			if err != nil {
				return err
			}
			defer cat.Close()
			if err := snapshot.Restore(ctx, cat, snap); err != nil {
				return err
			}
			return printSummary(cmd, args[0], snapshot.Summarize(snap))
		},
	}
}

func printSummary(cmd *cobra.Command, objectPath string, summary snapshot.Summary) error {
	data, err := json.MarshalIndent(struct {
		Object string `json:"object"`
		snapshot.Summary
	}{objectPath, summary}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
