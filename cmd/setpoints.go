package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dercontrol/config"
	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/core/setpointlog"
	"github.com/kilianp07/dercontrol/pkg/export"
)

var (
	exportStart  string
	exportEnd    string
	exportFormat string
	exportMRID   string
	exportSource string
	exportOutput string
)

var setpointsCmd = &cobra.Command{
	Use:   "setpoints",
	Short: "Inspect the setpoint log",
}

var setpointsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export logged setpoints as CSV or JSON",
	RunE:  runSetpointsExport,
}

func init() {
	f := setpointsExportCmd.Flags()
	f.StringVar(&exportStart, "start", "", "first timestamp (RFC3339)")
	f.StringVar(&exportEnd, "end", "", "last timestamp (RFC3339)")
	f.StringVarP(&exportFormat, "format", "f", "csv", "output format: csv or json")
	f.StringVar(&exportMRID, "mrid", "", "only records where this event won a field")
	f.StringVar(&exportSource, "source", "", "only records constrained by this limit source")
	f.StringVarP(&exportOutput, "output", "o", "", "output file (defaults to stdout)")
	setpointsCmd.AddCommand(setpointsExportCmd)
	rootCmd.AddCommand(setpointsCmd)
}

func runSetpointsExport(cmd *cobra.Command, args []string) error {
	q, err := exportQuery(exportStart, exportEnd, exportMRID, exportSource)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.SetpointLog.Backend == "" {
		return fmt.Errorf("no setpoint log backend configured")
	}
	store, err := setpointlog.New(cfg.SetpointLog)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var w io.Writer = cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	return exportSetpoints(cmd.Context(), w, store, q, exportFormat)
}

func exportQuery(start, end, mrid, source string) (setpointlog.Query, error) {
	q := setpointlog.Query{MRID: mrid, Source: model.LimitSource(source)}
	if start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return q, fmt.Errorf("invalid --start: %w", err)
		}
		q.Start = t
	}
	if end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return q, fmt.Errorf("invalid --end: %w", err)
		}
		q.End = t
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return q, fmt.Errorf("--end before --start")
	}
	return q, nil
}

func exportSetpoints(ctx context.Context, w io.Writer, store setpointlog.Store, q setpointlog.Query, format string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	recs, err := store.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("query setpoint log: %w", err)
	}
	return export.Write(w, format, recs)
}
