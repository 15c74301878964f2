package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/server"
)

const defaultCallTimeout = 30 * time.Second

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Create and control jobs on a running server",
	}
	cmd.PersistentFlags().String("user", os.Getenv("DOCTR_USER"), "user id sent as x-user-id (default $DOCTR_USER)")

	cmd.AddCommand(
		newJobsStartCommand(),
		newJobsUploadCommand(),
		newJobsProgressCommand(),
		newJobsResultCommand(),
		newJobsEventsCommand(),
		newJobControlCommand("pause", "Pause a running job", (*server.Client).Pause),
		newJobControlCommand("resume", "Resume a paused job", (*server.Client).Resume),
		newJobControlCommand("stop", "Stop a running or paused job", (*server.Client).Stop),
		newJobControlCommand("restart", "Start a created job or restart a stopped one from its checkpoint", (*server.Client).StartJob),
		newJobsDeleteCommand(),
		newJobsListCommand(),
		newCorrectionsCommand(),
	)
	return cmd
}

// dial connects to the configured server as the --user principal.
func dial(cmd *cobra.Command) (*server.Client, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	user, _ := cmd.Flags().GetString("user")
	if strings.TrimSpace(user) == "" {
		return nil, fmt.Errorf("--user or DOCTR_USER is required")
	}
	return server.Dial(dialAddr(cfg.Server.GRPCAddr), user)
}

// dialAddr turns a listen address like ":8080" into a dialable one.
func dialAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func callContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), defaultCallTimeout)
}

func newJobsStartCommand() *cobra.Command {
	var req server.TranslateRequest
	var file string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a translation job",
		Example: `  doctranslate jobs start --from en --to de --text "Hello world."
  doctranslate jobs start --from auto --to en --file scan.pdf
  doctranslate jobs start --from de --to en --source-job 3f1c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				req.FileName = filepath.Base(file)
				req.Content = b
			}
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := callContext(cmd)
			defer cancel()
			snap, err := c.StartTranslation(ctx, req)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.SourceLanguage, "from", constants.LanguageAuto, "source language or auto")
	cmd.Flags().StringVar(&req.TargetLanguage, "to", "", "target language")
	cmd.Flags().StringVar(&req.Text, "text", "", "text to translate")
	cmd.Flags().StringVar(&req.SourceJobID, "source-job", "", "translate the OCR output of a completed job")
	cmd.Flags().StringVar(&file, "file", "", "document to OCR and translate, sent to the server")
	_ = cmd.MarkFlagRequired("to")
	cmd.MarkFlagsMutuallyExclusive("text", "source-job", "file")
	cmd.MarkFlagsOneRequired("text", "source-job", "file")
	return cmd
}

func newJobsUploadCommand() *cobra.Command {
	var req server.OCRRequest
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Start an OCR job for a document",
		Args:  cobra.ExactArgs(1),
		Example: `  doctranslate jobs upload scan.pdf --from de
  doctranslate jobs upload scan.pdf --from auto --to en --translate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			req.FileName = filepath.Base(args[0])
			req.Content = b
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := callContext(cmd)
			defer cancel()
			snap, err := c.UploadOCR(ctx, req)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.SourceLanguage, "from", constants.LanguageAuto, "document language or auto")
	cmd.Flags().StringVar(&req.TargetLanguage, "to", "", "target language when --translate is set")
	cmd.Flags().BoolVar(&req.AutoTranslate, "translate", false, "translate the OCR output")
	return cmd
}

func newJobsProgressCommand() *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "progress JOB_ID",
		Short: "Show a job's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			if !watch {
				ctx, cancel := callContext(cmd)
				defer cancel()
				snap, err := c.GetProgress(ctx, args[0])
				if err != nil {
					return err
				}
				printSnapshot(cmd.OutOrStdout(), snap)
				return nil
			}
			snap, err := watchProgress(cmd.Context(), c, args[0], interval, func(s entity.Snapshot) {
				fmt.Fprintln(cmd.OutOrStdout(), progressLine(s))
			})
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll until the job completes, fails or stops")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval with --watch")
	return cmd
}

type progressGetter interface {
	GetProgress(ctx context.Context, id string) (entity.Snapshot, error)
}

// watchProgress polls until the job reaches COMPLETED, FAILED or STOPPED. onChange
// sees each distinct committed version.
func watchProgress(ctx context.Context, c progressGetter, id string, interval time.Duration, onChange func(entity.Snapshot)) (entity.Snapshot, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last int64 = -1
	for {
		callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
		snap, err := c.GetProgress(callCtx, id)
		cancel()
		if err != nil {
			return entity.Snapshot{}, err
		}
		if snap.Version != last {
			last = snap.Version
			onChange(snap)
		}
		if snap.State.IsTerminal() || snap.State == constants.JobStateStopped {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ticker.C:
		}
	}
}

func newJobsResultCommand() *cobra.Command {
	var stageName string
	cmd := &cobra.Command{
		Use:   "result JOB_ID",
		Short: "Print the outputs of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := callContext(cmd)
			defer cancel()
			res, err := c.GetResult(ctx, args[0])
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res, stageName)
			return nil
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", "", "only print this stage (OCR or TRANSLATE)")
	return cmd
}

func newJobsEventsCommand() *cobra.Command {
	var after int64
	cmd := &cobra.Command{
		Use:   "events JOB_ID",
		Short: "List a job's recorded transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := callContext(cmd)
			defer cancel()
			recs, err := c.Events(ctx, args[0], after)
			if err != nil {
				return err
			}
			printEvents(cmd.OutOrStdout(), recs)
			return nil
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "only events after this sequence number")
	return cmd
}

func newJobControlCommand(use, short string, call func(*server.Client, context.Context, string) (entity.Snapshot, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " JOB_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := callContext(cmd)
			defer cancel()
			snap, err := call(c, ctx, args[0])
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func newJobsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete JOB_ID",
		Short: "Delete a job that has no live worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := callContext(cmd)
			defer cancel()
			if err := c.Delete(ctx, args[0]); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "deleted "+args[0])
			return nil
		},
	}
}

func newJobsListCommand() *cobra.Command {
	var req server.ListJobsRequest
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your jobs, newest first",
		Example: `  doctranslate jobs list
  doctranslate jobs list --kind ocr --page 2 --page-size 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := callContext(cmd)
			defer cancel()
			page, err := c.ListJobs(ctx, req)
			if err != nil {
				return err
			}
			printJobPage(cmd.OutOrStdout(), page)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Kind, "kind", "", "only jobs with this stage: ocr or translate")
	cmd.Flags().IntVar(&req.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&req.PageSize, "page-size", 20, "jobs per page (max 100)")
	return cmd
}

func newCorrectionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corrections",
		Short: "Manage corrected translations reused by later jobs",
	}
	cmd.AddCommand(newCorrectionsAddCommand(), newCorrectionsListCommand(), newCorrectionsDeleteCommand())
	return cmd
}

func newCorrectionsAddCommand() *cobra.Command {
	var req server.CorrectionRequest
	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Record the translation a sentence should get",
		Example: `  doctranslate jobs corrections add --from en --to de --source "Good morning." --translation "Guten Morgen!"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := callContext(cmd)
			defer cancel()
			out, err := c.AddCorrection(ctx, req)
			if err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "added correction "+out.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.SourceLanguage, "from", "", "source language")
	cmd.Flags().StringVar(&req.TargetLanguage, "to", "", "target language")
	cmd.Flags().StringVar(&req.SourceText, "source", "", "source sentence")
	cmd.Flags().StringVar(&req.Translation, "translation", "", "preferred translation")
	cmd.Flags().StringVar(&req.JobID, "job", "", "job whose output is corrected")
	for _, f := range []string{"from", "to", "source", "translation"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newCorrectionsListCommand() *cobra.Command {
	var (
		from, to       string
		page, pageSize int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your corrections, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := callContext(cmd)
			defer cancel()
			out, err := c.ListCorrections(ctx, from, to, page, pageSize)
			if err != nil {
				return err
			}
			printCorrections(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "only this source language")
	cmd.Flags().StringVar(&to, "to", "", "only this target language")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "corrections per page (max 100)")
	return cmd
}

func newCorrectionsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete CORRECTION_ID",
		Short: "Delete a correction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			ctx, cancel := callContext(cmd)
			defer cancel()
			if err := c.DeleteCorrection(ctx, args[0]); err != nil {
				return err
			}
			printOK(cmd.OutOrStdout(), "deleted correction "+args[0])
			return nil
		},
	}
}
