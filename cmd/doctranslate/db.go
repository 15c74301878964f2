package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/doc-translator/internal/repository"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the job store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Store.Driver == "memory" {
				return fmt.Errorf("store driver %q has no schema", cfg.Store.Driver)
			}
			// Open applies pending migrations for SQL drivers.
			store, err := repository.Open(cmd.Context(), cfg.Store, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			printOK(cmd.OutOrStdout(), fmt.Sprintf("%s schema is up to date", cfg.Store.Driver))
			return nil
		},
	}
}

type pinger interface {
	Ping(ctx context.Context, timeout time.Duration) error
}

func newDBHealthCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "dbhealth",
		Short: "Ping the job store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := repository.Open(cmd.Context(), cfg.Store, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			p, ok := store.(pinger)
			if !ok {
				printOK(cmd.OutOrStdout(), "DB health: OK ("+cfg.Store.Driver+", nothing to ping)")
				return nil
			}
			if err := p.Ping(cmd.Context(), timeout); err != nil {
				return fmt.Errorf("DB health: FAIL: %w", err)
			}
			printOK(cmd.OutOrStdout(), "DB health: OK ("+cfg.Store.Driver+")")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "ping timeout")
	return cmd
}
