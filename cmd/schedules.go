package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dercontrol/core/ack"
	"github.com/kilianp07/dercontrol/core/coordinator"
	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/core/ramp"
	"github.com/kilianp07/dercontrol/core/scheduler"
	"github.com/kilianp07/dercontrol/infra/logger"
	"github.com/kilianp07/dercontrol/infra/mqtt"
)

var (
	eventsPath string
	atTime     string
	jitterSeed uint64
	fieldName  string
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Print effective schedules and the resolved limit for an event fixture",
	RunE:  printSchedules,
}

func init() {
	schedulesCmd.Flags().StringVarP(&eventsPath, "events", "e", "", "event fixture (yaml or json)")
	schedulesCmd.Flags().StringVar(&atTime, "at", "", "evaluation time (RFC3339, defaults to now)")
	schedulesCmd.Flags().Uint64Var(&jitterSeed, "seed", 1, "randomization seed")
	schedulesCmd.Flags().StringVar(&fieldName, "field", "", "only list this control field")
	_ = schedulesCmd.MarkFlagRequired("events")
	rootCmd.AddCommand(schedulesCmd)
}

func printSchedules(cmd *cobra.Command, args []string) error {
	at := time.Now()
	if atTime != "" {
		t, err := time.Parse(time.RFC3339, atTime)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		at = t
	}
	fields := model.AllFields()
	if fieldName != "" {
		f, err := model.ParseControlField(fieldName)
		if err != nil {
			return err
		}
		fields = []model.ControlField{f}
	}
	fx, err := scheduler.LoadEvents(eventsPath)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	sp, c, err := evaluate(cmd.Context(), fx, at, jitterSeed)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), c, sp, fields, at)
}

// evaluate ingests the fixture into a dry-run coordinator and ticks once at.
func evaluate(ctx context.Context, fx scheduler.Fixture, at time.Time, seed uint64) (coordinator.Setpoint, *coordinator.Coordinator, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.NopLogger{}
	protocol, err := ack.NewProtocol(ack.Config{}, mqtt.NewRecordingClient(), log)
	if err != nil {
		return coordinator.Setpoint{}, nil, err
	}
	c, err := coordinator.New(coordinator.Config{}, coordinator.Deps{
		Schedules: scheduler.NewSet(scheduler.Config{JitterSeed: seed}, log),
		Acks:      protocol,
		Shaper:    ramp.NewShaper(ramp.Config{Disabled: true}),
	}, log)
	if err != nil {
		return coordinator.Setpoint{}, nil, err
	}
	programs, err := fx.ProgramEvents()
	if err != nil {
		return coordinator.Setpoint{}, nil, err
	}
	for _, pe := range programs {
		for _, e := range c.UpdateProgram(ctx, pe.Program, pe.Events) {
			return coordinator.Setpoint{}, nil, e
		}
	}
	if dc, ok, err := fx.DefaultControl(); err != nil {
		return coordinator.Setpoint{}, nil, err
	} else if ok {
		if err := c.UpdateDefaultControl(ctx, dc); err != nil {
			return coordinator.Setpoint{}, nil, err
		}
	}
	return c.Tick(ctx, at), c, nil
}

func render(w io.Writer, c *coordinator.Coordinator, sp coordinator.Setpoint, fields []model.ControlField, at time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FIELD\tMRID\tPROGRAM\tPRIMACY\tSTART\tEND\tVALUE\tACTIVE")
	for _, f := range fields {
		for _, s := range c.ControlSchedules(f) {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%g\t%t\n",
				f, s.MRID, s.ProgramID, s.ProgramPrimacy,
				s.EffectiveStart.Format(time.RFC3339), s.EffectiveEnd.Format(time.RFC3339),
				s.Value, s.ActiveAt(at))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nresolved at %s:\n", at.Format(time.RFC3339))
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Limit   model.InverterControlLimit    `json:"limit"`
		Winners map[model.ControlField]string `json:"winners,omitempty"`
	}{sp.Remote, sp.Winners})
}
