package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/pdf-batch/backend/internal/models"
	"github.com/pdf-batch/backend/internal/schema"
	"github.com/spf13/cobra"
)

var previewPolicy string

var previewCmd = &cobra.Command{
	Use:   "preview <schema-file> <pdf>...",
	Short: "Show which schema each file would be extracted with",
	Long: `preview parses a schema definition and prints the assignment every
listed file would receive, followed by any mapping diagnostics. Files are
matched by name only and are not read.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().StringVar(&previewPolicy, "exhausted", string(schema.ReuseFirst), "assignment once labeled entries run out: reuse_first or empty")
	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	text, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}
	policy, err := schema.ParsePolicy(previewPolicy)
	if err != nil {
		return err
	}

	files := make([]models.File, 0, len(args)-1)
	for _, p := range args[1:] {
		files = append(files, models.File{Name: filepath.Base(p)})
	}

	plan := schema.Matcher{Policy: policy}.Plan(string(text), files)
	if !plan.Valid {
		return fmt.Errorf("invalid schema: %s", plan.ParseError)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "mode: %s\n\n", plan.Input.Mode)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tLABEL\tMATCHED BY\tFIELDS")
	for _, a := range plan.Assignments {
		label := a.Label
		if label == "" {
			label = "-"
		}
		fields := strings.Join(schema.FieldNames(a.Schema), ", ")
		if fields == "" {
			fields = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.File.Name, label, a.MatchedBy, fields)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(plan.Diagnostics) > 0 {
		fmt.Fprintln(out)
		for _, d := range plan.Diagnostics {
			fmt.Fprintf(out, "[%s] %s\n", d.Severity, d.Message)
		}
	}
	return nil
}
