package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/doc-translator/internal/common"
)

// flagKeys binds command flags to config keys.
var flagKeys = map[string]string{
	"log-level":   "log.level",
	"log-format":  "log.format",
	"grpc-addr":   "server.grpc_addr",
	"store":       "store.driver",
	"sqlite-path": "store.sqlite_path",
	"db-url":      "store.dsn",
	"inbox":       "ingest.inbox_dir",
	"inbox-owner": "ingest.owner_id",
	"auto-resume": "engine.auto_resume",
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "doctranslate",
		Short:         "OCR and translation job engine",
		Long:          `doctranslate runs OCR and translation jobs that can be paused, resumed, stopped and restarted from their last checkpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "YAML config file")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("log-format", "", "text or json")
	pf.String("grpc-addr", "", "gRPC listen (serve) or dial (jobs) address")
	pf.String("store", "", "job store driver: memory, sqlite or postgres")
	pf.String("sqlite-path", "", "SQLite database file")
	pf.String("db-url", "", "Postgres DSN")

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newDBHealthCommand(),
		newJobsCommand(),
	)
	return root
}

// loadConfig reads the layered configuration for cmd and builds its logger.
func loadConfig(cmd *cobra.Command) (*common.Config, *slog.Logger, error) {
	file, _ := cmd.Flags().GetString("config")
	cfg, err := common.LoadConfig(common.LoadOptions{
		File:     file,
		Flags:    cmd.Flags(),
		FlagKeys: flagKeys,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := common.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
