package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/universome/czsl/internal/infrastructure/metrics"
)

// Flag variables for the metrics commands
var (
	metricsDBPath string
	metricsRunID  string
	metricsName   string
)

// MetricsCmd is the parent command for metrics-database inspection.
var MetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Inspect a metrics database",
	Long:  `Commands for listing runs and dumping recorded scalar series.`,
}

var metricsRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs in a metrics database",
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := metrics.ListRuns(context.Background(), metricsDBPath)
		if err != nil {
			return fmt.Errorf("failed to read metrics store: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "run\tpoints")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%d\n", r.RunID, r.Points)
		}
		return w.Flush()
	},
}

var metricsDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump scalar series of a run as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		names := []string{metricsName}
		if metricsName == "" {
			var err error
			names, err = metrics.ListNames(ctx, metricsDBPath, metricsRunID)
			if err != nil {
				return fmt.Errorf("failed to read metrics store: %w", err)
			}
		}

		series := make(map[string][]metrics.Point, len(names))
		for _, name := range names {
			points, err := metrics.ReadSeries(ctx, metricsDBPath, metricsRunID, name)
			if err != nil {
				return fmt.Errorf("failed to read %q: %w", name, err)
			}
			series[name] = points
		}

		output, err := json.MarshalIndent(series, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(output))
		return nil
	},
}

func init() {
	MetricsCmd.PersistentFlags().StringVarP(&metricsDBPath, "db", "d", "metrics.db", "Path to the metrics database")

	metricsDumpCmd.Flags().StringVarP(&metricsRunID, "run", "r", "", "Run ID (required)")
	metricsDumpCmd.Flags().StringVarP(&metricsName, "name", "n", "", "Scalar name (all names when empty)")
	metricsDumpCmd.MarkFlagRequired("run")

	MetricsCmd.AddCommand(metricsRunsCmd)
	MetricsCmd.AddCommand(metricsDumpCmd)
}
