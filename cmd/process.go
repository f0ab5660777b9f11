package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegis-moderation/aegis/pkg/moderation"
	"github.com/aegis-moderation/aegis/pkg/moderation/policy"
	"github.com/aegis-moderation/aegis/pkg/moderation/scheduler"
)

// Process command flags.
var (
	processOutput string
	processDebug  bool
)

// NewProcessCommand creates the 'process' command.
func NewProcessCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process all held comments now",
		Long: `Classify and moderate all comments currently held for review, bounded by
the configured sweep batch size, oldest first.

This is the manual recovery path when background dispatch is unreliable:
comments that already carry a decision are skipped, so re-running is safe.

Examples:
  aegis process
  aegis process --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, deps)
		},
	}

	cmd.Flags().StringVarP(&processOutput, "output", "o", "", "Output format: text, json, yaml")
	cmd.Flags().BoolVar(&processDebug, "debug", false, "Enable debug logging")

	return cmd
}

func runProcess(cmd *cobra.Command, deps *Deps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	log := newCommandLogger(cfg, processDebug)

	ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
	defer cancel()

	rt, err := deps.OpenRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	classifier := deps.NewClassifier(cfg, activeAPIKey(deps), log)
	engine := policy.New(rt.Comments, rt.Decisions, rt.Metrics, log)
	sched := scheduler.New(scheduler.Deps{
		Comments:   rt.Comments,
		Decisions:  rt.Decisions,
		Classifier: classifier,
		Evaluator:  engine,
		Settings:   rt.Settings,
		Logger:     log,
	})
	defer func() { _ = sched.Stop() }()

	summary, err := sched.ProcessNow(ctx)
	if err != nil {
		return err
	}

	switch processOutput {
	case "json":
		return writeJSON(cmd.OutOrStdout(), summary)
	case "yaml":
		return writeYAML(cmd.OutOrStdout(), summary)
	default:
		return printSummary(cmd, summary)
	}
}

func printSummary(cmd *cobra.Command, summary *scheduler.Summary) error {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Processed: %d  (approved %d, spam %d, rejected %d, pending review %d)\n",
		summary.Processed, summary.Approved, summary.Spam, summary.Rejected, summary.PendingReview)
	if summary.Skipped > 0 {
		fmt.Fprintf(out, "Skipped:   %d\n", summary.Skipped)
	}
	if summary.Errors > 0 {
		fmt.Fprintf(out, "Errors:    %d\n", summary.Errors)
	}

	if len(summary.Items) == 0 {
		fmt.Fprintln(out, "No held comments.")
		return nil
	}

	fmt.Fprintf(out, "\n%-10s %-16s %s\n", "COMMENT", "OUTCOME", "DETAIL")
	for _, item := range summary.Items {
		outcome := string(item.Outcome)
		detail := ""
		switch {
		case item.Error != "":
			outcome = "error"
			detail = item.Error
		case item.Skipped:
			outcome = "skipped"
		case item.Outcome == moderation.OutcomePendingReview:
			detail = "held for human review"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-10d %-16s %s\n", item.CommentID, outcome, detail)
	}
	return nil
}

// formatDuration renders a duration for table output.
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}
