package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/concord-cpg-engine/internal/batch"
	"github.com/concord-cpg-engine/internal/engine"
)

var (
	batchWorkers int
	batchRate    float64
	batchFormat  string
)

var batchCmd = &cobra.Command{
	Use:   "batch <guideline> <subject>...",
	Short: "Evaluate a guideline against many subjects concurrently",
	Long:  "Evaluates every subject document; subjects may be glob patterns. One failing subject never stops the others.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		subjects, err := expandSubjects(args[1:])
		if err != nil {
			return err
		}

		e, closeStore, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		bcfg := cfg.Batch
		if cmd.Flags().Changed("workers") {
			bcfg.Workers = batchWorkers
		}
		if cmd.Flags().Changed("rate") {
			bcfg.Rate = batchRate
		}

		results, runErr := batch.NewRunner(e, bcfg, logger).Run(ctx, args[0], subjects)
		if err := writeBatch(cmd.OutOrStdout(), results, batchFormat); err != nil {
			return err
		}
		if runErr != nil {
			return runErr
		}
		if n := batch.Summarize(results)[engine.OutcomeError]; n > 0 {
			return fmt.Errorf("%d of %d subjects failed", n, len(results))
		}
		return nil
	},
}

func init() {
	f := batchCmd.Flags()
	f.IntVar(&batchWorkers, "workers", 0, "concurrent evaluations (default from config)")
	f.Float64Var(&batchRate, "rate", 0, "subjects started per second, 0 for unlimited (default from config)")
	f.StringVar(&batchFormat, "format", "text", "output format (text, json)")
	rootCmd.AddCommand(batchCmd)
}

// expandSubjects resolves glob patterns. Arguments without glob metacharacters are
// kept as given so a missing file surfaces as that subject's failure.
func expandSubjects(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("bad subject pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			out = append(out, arg)
			continue
		}
		out = append(out, matches...)
	}
	return out, nil
}

func writeBatch(w io.Writer, results []batch.Result, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBJECT\tOUTCOME\tAPPLIED\tDETAIL")
	for _, res := range results {
		applied := 0
		if res.Report != nil {
			applied = len(res.Report.Applied())
		}
		detail := res.Error
		if len(res.Pending) > 0 {
			detail = fmt.Sprintf("pending: %v", res.Pending)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", res.Subject, res.Outcome, applied, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	summary := batch.Summarize(results)
	outcomes := make([]string, 0, len(summary))
	for o := range summary {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	fmt.Fprintf(w, "\n%d subjects:", len(results))
	for _, o := range outcomes {
		fmt.Fprintf(w, " %s=%d", o, summary[engine.Outcome(o)])
	}
	_, err := fmt.Fprintln(w)
	return err
}
