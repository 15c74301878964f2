package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/doc-translator/constants"
	"github.com/joseph-ayodele/doc-translator/internal/common"
	"github.com/joseph-ayodele/doc-translator/internal/entity"
	"github.com/joseph-ayodele/doc-translator/internal/jobs"
	"github.com/joseph-ayodele/doc-translator/internal/services/translation"
)

func stateColor(s constants.JobState) *color.Color {
	switch s {
	case constants.JobStateCompleted:
		return color.New(color.FgGreen, color.Bold)
	case constants.JobStateRunning:
		return color.New(color.FgCyan)
	case constants.JobStatePaused:
		return color.New(color.FgYellow)
	case constants.JobStateFailed:
		return color.New(color.FgRed, color.Bold)
	case constants.JobStateStopped:
		return color.New(color.FgMagenta)
	default:
		return color.New(color.Reset)
	}
}

func coloredState(s constants.JobState) string {
	return stateColor(s).Sprint(s.String())
}

func printSnapshot(w io.Writer, s entity.Snapshot) {
	plan := make([]string, len(s.StagesPlan))
	for i, k := range s.StagesPlan {
		plan[i] = k.String()
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "job\t%s\n", s.JobID)
	fmt.Fprintf(tw, "state\t%s\n", coloredState(s.State))
	fmt.Fprintf(tw, "run\t%d\n", s.Run)
	fmt.Fprintf(tw, "plan\t%s\n", strings.Join(plan, " -> "))
	if s.CurrentStage != "" {
		fmt.Fprintf(tw, "stage\t%s (%d/%d)\n", s.CurrentStage, s.CurrentStageIndex+1, len(s.StagesPlan))
	}
	fmt.Fprintf(tw, "progress\t%s\n", progressBar(s.Progress, s.Current, s.Total))
	if s.Error != nil {
		fmt.Fprintf(tw, "error\t%s\n", color.RedString("%s: %s", s.Error.Code, s.Error.Message))
	}
	if !s.UpdatedAt.IsZero() {
		fmt.Fprintf(tw, "updated\t%s\n", s.UpdatedAt.Local().Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func progressBar(pct, current, total int) string {
	const width = 20
	filled := pct * width / 100
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
	out := fmt.Sprintf("[%s] %3d%%", bar, pct)
	if total > 0 {
		out += fmt.Sprintf(" (%d/%d)", current, total)
	}
	return out
}

func progressLine(s entity.Snapshot) string {
	return fmt.Sprintf("%s %s %s %s", s.JobID, coloredState(s.State), s.CurrentStage, progressBar(s.Progress, s.Current, s.Total))
}

func printResult(w io.Writer, r entity.Result, stageFilter string) {
	for _, st := range r.Stages {
		if stageFilter != "" && !strings.EqualFold(stageFilter, st.Kind.String()) {
			continue
		}
		fmt.Fprintln(w, color.New(color.Bold).Sprintf("== %s ==", st.Kind))
		fmt.Fprintln(w, st.Output)
	}
}

func printEvents(w io.Writer, recs []jobs.Record) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, color.New(color.Bold).Sprint("SEQ\tEVENT\tFROM\tTO\tRUN\tPROGRESS\tAT"))
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d%%\t%s\n",
			r.Seq, r.Event, r.From, coloredState(r.To), r.Run, r.Progress, r.At.Local().Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func printJobPage(w io.Writer, p translation.JobPage) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, color.New(color.Bold).Sprint("JOB\tSTATE\tPLAN\tLANGS\tPROGRESS\tFILE\tCREATED"))
	for _, j := range p.Items {
		plan := make([]string, len(j.StagesPlan))
		for i, k := range j.StagesPlan {
			plan[i] = k.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s->%s\t%d%%\t%s\t%s\n",
			j.JobID, coloredState(j.State), strings.Join(plan, ","), j.SourceLanguage, j.TargetLanguage,
			j.Progress, j.FileName, j.CreatedAt.Local().Format(time.RFC3339))
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "page %d, %d of %d jobs\n", p.Page, len(p.Items), p.Total)
}

func printCorrections(w io.Writer, p translation.CorrectionPage) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, color.New(color.Bold).Sprint("ID\tLANGS\tSOURCE\tTRANSLATION\tUSED"))
	for _, c := range p.Items {
		fmt.Fprintf(tw, "%s\t%s->%s\t%s\t%s\t%d\n",
			c.ID, c.SourceLanguage, c.TargetLanguage, c.SourceText, c.Translation, c.UsageCount)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "page %d, %d of %d corrections\n", p.Page, len(p.Items), p.Total)
}

func printOK(w io.Writer, msg string) {
	_, _ = color.New(color.FgGreen).Fprintln(w, msg)
}

// errorLine renders gRPC failures with their code and application code.
func errorLine(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return color.RedString("Error: %v", err)
	}
	line := fmt.Sprintf("Error [%s]: %s", st.Code(), st.Message())
	if code := common.CodeFromStatus(err); code != "" {
		line = fmt.Sprintf("Error [%s/%s]: %s", st.Code(), code, st.Message())
	}
	return color.RedString("%s", line)
}
