package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	agerrors "github.com/aegis-moderation/aegis/pkg/errors"
	"github.com/aegis-moderation/aegis/pkg/logging"
	"github.com/aegis-moderation/aegis/pkg/moderation"
	"github.com/aegis-moderation/aegis/pkg/moderation/store"
)

// Decisions command flags.
var (
	decisionsOutput  string
	decisionsLimit   int
	decisionsOffset  int
	overrideActor    string
	clearConfirm     bool
	auditCommentID   int64
	auditSinceWindow time.Duration
)

// NewDecisionsCommand creates the 'decisions' command group.
func NewDecisionsCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Inspect and manage moderation decisions",
		Long: `Inspect the durable moderation decision records.

Every automatically moderated comment carries exactly one decision: the
model's verdict, confidence, reasoning, and whether a human later overrode
it. Decisions are append-only; 'override' changes the comment, not the
decision record.

Examples:
  aegis decisions list
  aegis decisions show 42
  aegis decisions override 42 approved --by alice
  aegis decisions export --format csv
  aegis decisions audit --comment 42`,
	}

	cmd.AddCommand(newDecisionsListCommand(deps))
	cmd.AddCommand(newDecisionsShowCommand(deps))
	cmd.AddCommand(newDecisionsOverrideCommand(deps))
	cmd.AddCommand(newDecisionsClearCommand(deps))
	cmd.AddCommand(newDecisionsExportCommand(deps))
	cmd.AddCommand(newDecisionsAuditCommand(deps))

	return cmd
}

func newDecisionsListCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List moderation decisions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, deps, func(ctx context.Context, rt *Runtime) error {
				decisions, err := rt.Decisions.List(ctx, decisionsLimit, decisionsOffset)
				if err != nil {
					return err
				}

				switch decisionsOutput {
				case "json":
					return writeJSON(cmd.OutOrStdout(), exportRecords(decisions))
				case "yaml":
					return writeYAML(cmd.OutOrStdout(), exportRecords(decisions))
				default:
					return printDecisionTable(cmd, decisions)
				}
			})
		},
	}

	cmd.Flags().IntVar(&decisionsLimit, "limit", 50, "Maximum decisions to list")
	cmd.Flags().IntVar(&decisionsOffset, "offset", 0, "Offset into the listing")
	cmd.Flags().StringVarP(&decisionsOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

func newDecisionsShowCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <comment-id>",
		Short: "Show the decision for a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			commentID, err := parseCommentID(args[0])
			if err != nil {
				return err
			}

			return withRuntime(cmd, deps, func(ctx context.Context, rt *Runtime) error {
				d, err := rt.Decisions.GetByComment(ctx, commentID)
				if err != nil {
					if errors.Is(err, agerrors.ErrNotFound) {
						return fmt.Errorf("no decision recorded for comment %d", commentID)
					}
					return err
				}

				switch decisionsOutput {
				case "json":
					return writeJSON(cmd.OutOrStdout(), toExportRecord(d))
				case "yaml":
					return writeYAML(cmd.OutOrStdout(), toExportRecord(d))
				default:
					printDecision(cmd, d)
					return nil
				}
			})
		},
	}

	cmd.Flags().StringVarP(&decisionsOutput, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newDecisionsOverrideCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override <comment-id> <status>",
		Short: "Override an AI decision with a human verdict",
		Long: `Set a comment's status as a human moderator, overriding the automatic
decision. The decision record is marked overridden with the actor and
timestamp; the AI's original verdict is preserved for comparison.

Valid statuses: approved, spam, trashed, pending.

Examples:
  aegis decisions override 42 approved --by alice
  aegis decisions override 17 spam --by bob`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			commentID, err := parseCommentID(args[0])
			if err != nil {
				return err
			}
			status := moderation.Status(args[1])
			if !status.IsValid() {
				return fmt.Errorf("invalid status %q (must be pending, approved, spam, or trashed)", args[1])
			}

			return withRuntime(cmd, deps, func(ctx context.Context, rt *Runtime) error {
				requestID := uuid.NewString()
				log := rt.Log.With(
					logging.F("request_id", requestID),
					logging.CommentID(commentID))

				actor := overrideActor
				if actor == "" {
					actor = "operator"
				}

				if err := rt.Comments.SetStatus(ctx, commentID, status, moderation.ActorHuman, actor); err != nil {
					if errors.Is(err, agerrors.ErrNotFound) {
						return fmt.Errorf("comment %d not found", commentID)
					}
					return err
				}
				log.Info("status overridden",
					logging.F("status", string(status)),
					logging.F("actor", actor))

				fmt.Fprintf(cmd.OutOrStdout(), "Comment %d set to %s by %s\n", commentID, status, actor)

				d, err := rt.Decisions.GetByComment(ctx, commentID)
				if err == nil && d.Overridden {
					fmt.Fprintf(cmd.OutOrStdout(), "Decision overridden (AI verdict was %s, confidence %.2f)\n",
						d.SuggestedOutcome, d.Confidence)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&overrideActor, "by", "", "Name of the human moderator")
	return cmd
}

func newDecisionsClearCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all decision records",
		Long: `Delete every moderation decision record.

Cleared comments become eligible for automatic moderation again on the next
sweep. Requires --yes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !clearConfirm {
				return fmt.Errorf("refusing to clear decisions without --yes")
			}

			return withRuntime(cmd, deps, func(ctx context.Context, rt *Runtime) error {
				n, err := rt.Decisions.Clear(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d decisions\n", n)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearConfirm, "yes", false, "Confirm deletion")
	return cmd
}

func newDecisionsAuditCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the persisted audit log",
		Long: `List audit log entries: classification failures, override detections,
and other pipeline events. Requires a configured database.

Examples:
  aegis decisions audit
  aegis decisions audit --comment 42
  aegis decisions audit --since 24h --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, deps, func(ctx context.Context, rt *Runtime) error {
				if rt.Audit == nil {
					return fmt.Errorf("audit log requires a configured database")
				}

				q := store.AuditQuery{
					CommentID: auditCommentID,
					Limit:     decisionsLimit,
					Offset:    decisionsOffset,
				}
				if auditSinceWindow > 0 {
					q.Since = time.Now().Add(-auditSinceWindow)
				}

				records, err := rt.Audit.ListAudit(ctx, q)
				if err != nil {
					return err
				}

				switch decisionsOutput {
				case "json":
					return writeJSON(cmd.OutOrStdout(), records)
				case "yaml":
					return writeYAML(cmd.OutOrStdout(), records)
				default:
					return printAuditTable(cmd, records)
				}
			})
		},
	}

	cmd.Flags().Int64Var(&auditCommentID, "comment", 0, "Filter by comment id")
	cmd.Flags().DurationVar(&auditSinceWindow, "since", 0, "Only entries newer than this window (e.g. 24h)")
	cmd.Flags().IntVar(&decisionsLimit, "limit", 50, "Maximum entries to list")
	cmd.Flags().IntVar(&decisionsOffset, "offset", 0, "Offset into the listing")
	cmd.Flags().StringVarP(&decisionsOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// withRuntime loads config, opens the runtime, runs fn, and cleans up.
func withRuntime(cmd *cobra.Command, deps *Deps, fn func(ctx context.Context, rt *Runtime) error) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	log := newCommandLogger(cfg, false)

	ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
	defer cancel()

	rt, err := deps.OpenRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	return fn(ctx, rt)
}

func parseCommentID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid comment id %q", arg)
	}
	return id, nil
}

func printDecisionTable(cmd *cobra.Command, decisions []*moderation.Decision) error {
	out := cmd.OutOrStdout()
	if len(decisions) == 0 {
		fmt.Fprintln(out, "No decisions recorded.")
		return nil
	}

	fmt.Fprintf(out, "%-8s %-10s %-16s %-6s %-12s %-10s %s\n",
		"ID", "COMMENT", "OUTCOME", "CONF", "MODEL", "TIME", "OVERRIDDEN")
	for _, d := range decisions {
		overridden := "-"
		if d.Overridden {
			overridden = d.OverriddenBy
		}
		fmt.Fprintf(out, "%-8d %-10d %-16s %-6.2f %-12s %-10s %s\n",
			d.ID, d.CommentID, d.Outcome, d.Confidence, d.Model,
			formatDuration(d.ProcessingTime), overridden)
	}
	return nil
}

func printDecision(cmd *cobra.Command, d *moderation.Decision) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Decision %d for comment %d\n", d.ID, d.CommentID)
	fmt.Fprintf(out, "  Outcome:    %s\n", d.Outcome)
	if d.Outcome == moderation.OutcomePendingReview {
		fmt.Fprintf(out, "  Suggested:  %s\n", d.SuggestedOutcome)
	}
	fmt.Fprintf(out, "  Confidence: %.2f\n", d.Confidence)
	fmt.Fprintf(out, "  Model:      %s\n", d.Model)
	if d.ParameterNotes != "" {
		fmt.Fprintf(out, "  Notes:      %s\n", d.ParameterNotes)
	}
	if d.Reasoning != "" {
		fmt.Fprintf(out, "  Reasoning:  %s\n", d.Reasoning)
	}
	fmt.Fprintf(out, "  Took:       %s\n", formatDuration(d.ProcessingTime))
	fmt.Fprintf(out, "  Created:    %s\n", d.CreatedAt.Format(time.RFC3339))
	if d.Overridden {
		at := ""
		if d.OverriddenAt != nil {
			at = " at " + d.OverriddenAt.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "  Overridden: by %s%s\n", d.OverriddenBy, at)
	}
}

func printAuditTable(cmd *cobra.Command, records []*store.AuditRecord) error {
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No audit entries.")
		return nil
	}

	fmt.Fprintf(out, "%-20s %-6s %-10s %s\n", "TIME", "LEVEL", "COMMENT", "EVENT")
	for _, r := range records {
		comment := "-"
		if r.CommentID != nil {
			comment = strconv.FormatInt(*r.CommentID, 10)
		}
		fmt.Fprintf(out, "%-20s %-6s %-10s %s\n",
			r.OccurredAt.Format("2006-01-02 15:04:05"), r.Level, comment, r.Event)
	}
	return nil
}
