package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/ingest"
	"github.com/joseph-ayodele/doc-translator/internal/jobs"
	"github.com/joseph-ayodele/doc-translator/internal/llm/openai"
	"github.com/joseph-ayodele/doc-translator/internal/ocr"
	"github.com/joseph-ayodele/doc-translator/internal/pipeline"
	"github.com/joseph-ayodele/doc-translator/internal/repository"
	"github.com/joseph-ayodele/doc-translator/internal/server"
	"github.com/joseph-ayodele/doc-translator/internal/services/translation"
)

const shutdownGrace = 30 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC job service and the inbox watcher",
		Example: `  doctranslate serve --config doctranslate.yaml
  DOCTR_STORE__DRIVER=postgres DB_URL=postgres://... doctranslate serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().String("inbox", "", "directory watched for documents to OCR")
	cmd.Flags().String("inbox-owner", "", "user that owns jobs created from the inbox")
	cmd.Flags().Bool("auto-resume", false, "restart jobs interrupted by a previous shutdown")
	return cmd
}

func serve(parent context.Context, cfg *common.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := repository.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open job store", "driver", cfg.Store.Driver, "error", err)
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close job store", "error", err)
		}
	}()

	if cfg.LLM.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
		logger.Warn("no LLM API key configured; translation stages will fail", "base_url", cfg.LLM.BaseURL)
	}
	extractor := ocr.NewExtractorFromConfig(cfg.OCR, logger)
	translator := openai.NewClientFromConfig(cfg.LLM, logger)
	registry := pipeline.NewRegistry(extractor, translator, logger,
		pipeline.WithMemory(pipeline.NewStoreMemory(store, logger), cfg.LLM.CorrectionTokens))

	sched, query := jobs.NewEngine(store, registry, cfg.Engine, logger)
	n, err := sched.Recover(ctx)
	if err != nil {
		logger.Error("failed to recover jobs", "error", err)
		return err
	}
	logger.Info("engine.ready", "recovered", n, "max_active", cfg.Engine.MaxActive, "auto_resume", cfg.Engine.AutoResume)

	svc := translation.NewService(store, sched, query, logger,
		translation.WithUploads(cfg.Server.UploadDir, cfg.Server.MaxUploadBytes),
		translation.WithServerPaths(cfg.Ingest.InboxDir))
	grpcServer := server.New(svc, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return grpcServer.ListenAndServe(gctx, cfg.Server.GRPCAddr)
	})
	if cfg.Ingest.InboxDir != "" {
		inbox := ingest.NewInboxFromConfig(cfg.Ingest, svc, logger)
		g.Go(func() error {
			return inbox.Run(gctx)
		})
	}

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if serr := sched.Shutdown(shutdownCtx); serr != nil {
		logger.Error("engine shutdown incomplete", "error", serr)
	}
	if err != nil {
		logger.Error("serve exited with error", "error", err)
		return err
	}
	logger.Info("serve.stopped")
	return nil
}
