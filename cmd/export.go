package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/aegis-moderation/aegis/pkg/moderation"
)

// Export command flags.
var (
	exportFormat string
	exportFile   string
	exportLimit  int
)

// ExportRecord is the flattened decision shape used by all export encoders.
type ExportRecord struct {
	ID               int64   `json:"id" yaml:"id"`
	CommentID        int64   `json:"comment_id" yaml:"comment_id"`
	Outcome          string  `json:"outcome" yaml:"outcome"`
	SuggestedOutcome string  `json:"suggested_outcome,omitempty" yaml:"suggested_outcome,omitempty"`
	Confidence       float64 `json:"confidence" yaml:"confidence"`
	Reasoning        string  `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Model            string  `json:"model" yaml:"model"`
	ParameterNotes   string  `json:"parameter_notes,omitempty" yaml:"parameter_notes,omitempty"`
	ProcessingMs     int64   `json:"processing_ms" yaml:"processing_ms"`
	CreatedAt        string  `json:"created_at" yaml:"created_at"`
	Overridden       bool    `json:"overridden" yaml:"overridden"`
	OverriddenBy     string  `json:"overridden_by,omitempty" yaml:"overridden_by,omitempty"`
	OverriddenAt     string  `json:"overridden_at,omitempty" yaml:"overridden_at,omitempty"`
}

func toExportRecord(d *moderation.Decision) ExportRecord {
	rec := ExportRecord{
		ID:             d.ID,
		CommentID:      d.CommentID,
		Outcome:        string(d.Outcome),
		Confidence:     d.Confidence,
		Reasoning:      d.Reasoning,
		Model:          d.Model,
		ParameterNotes: d.ParameterNotes,
		ProcessingMs:   d.ProcessingTime.Milliseconds(),
		CreatedAt:      d.CreatedAt.Format(time.RFC3339),
		Overridden:     d.Overridden,
		OverriddenBy:   d.OverriddenBy,
	}
	if d.SuggestedOutcome != d.Outcome {
		rec.SuggestedOutcome = string(d.SuggestedOutcome)
	}
	if d.OverriddenAt != nil {
		rec.OverriddenAt = d.OverriddenAt.Format(time.RFC3339)
	}
	return rec
}

func exportRecords(decisions []*moderation.Decision) []ExportRecord {
	records := make([]ExportRecord, 0, len(decisions))
	for _, d := range decisions {
		records = append(records, toExportRecord(d))
	}
	return records
}

func newDecisionsExportCommand(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export decisions as JSON, YAML, or CSV",
		Long: `Export moderation decision records for offline analysis.

Exports newest first, bounded by --limit. Writes to stdout unless --file is
given.

Examples:
  aegis decisions export
  aegis decisions export --format csv --file decisions.csv
  aegis decisions export --format yaml --limit 1000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, deps, func(ctx context.Context, rt *Runtime) error {
				decisions, err := rt.Decisions.List(ctx, exportLimit, 0)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if exportFile != "" {
					f, err := os.Create(exportFile)
					if err != nil {
						return fmt.Errorf("creating export file: %w", err)
					}
					defer f.Close()
					out = f
				}

				if err := EncodeDecisions(out, exportFormat, decisions); err != nil {
					return err
				}
				if exportFile != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Exported %d decisions to %s\n", len(decisions), exportFile)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Export format: json, yaml, csv")
	cmd.Flags().StringVar(&exportFile, "file", "", "Write to a file instead of stdout")
	cmd.Flags().IntVar(&exportLimit, "limit", 500, "Maximum decisions to export")

	return cmd
}

// EncodeDecisions writes decisions to w in the requested format.
func EncodeDecisions(w io.Writer, format string, decisions []*moderation.Decision) error {
	switch format {
	case "json", "":
		return writeJSON(w, exportRecords(decisions))
	case "yaml":
		return writeYAML(w, exportRecords(decisions))
	case "csv":
		return encodeCSV(w, decisions)
	default:
		return fmt.Errorf("unknown export format %q (must be json, yaml, or csv)", format)
	}
}

var csvHeader = []string{
	"id", "comment_id", "outcome", "suggested_outcome", "confidence",
	"reasoning", "model", "parameter_notes", "processing_ms", "created_at",
	"overridden", "overridden_by", "overridden_at",
}

func encodeCSV(w io.Writer, decisions []*moderation.Decision) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, d := range decisions {
		rec := toExportRecord(d)
		row := []string{
			strconv.FormatInt(rec.ID, 10),
			strconv.FormatInt(rec.CommentID, 10),
			rec.Outcome,
			rec.SuggestedOutcome,
			strconv.FormatFloat(rec.Confidence, 'f', 4, 64),
			rec.Reasoning,
			rec.Model,
			rec.ParameterNotes,
			strconv.FormatInt(rec.ProcessingMs, 10),
			rec.CreatedAt,
			strconv.FormatBool(rec.Overridden),
			rec.OverriddenBy,
			rec.OverriddenAt,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
