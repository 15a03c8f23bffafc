package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dercontrol/app"
	"github.com/kilianp07/dercontrol/config"
	"github.com/kilianp07/dercontrol/infra/logger"
)

var (
	cfgPath   string
	deviceID  string
	checkOnly bool
)

var rootCmd = &cobra.Command{
	Use:   "dercontrol",
	Short: "DER control scheduling and limit resolution service",
	Long: `dercontrol resolves the active control of a distributed energy resource.

It schedules utility programs per control field, merges them with local
policies into one inverter limit, ramps the result and writes it to the
device while acknowledging every event back to the issuer.`,
	Example: `  dercontrol -c config.yaml
  dercontrol -c config.yaml --check
  dercontrol schedules -e events.yaml --at 2025-01-01T10:30:00Z`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file (yaml or json)")
	rootCmd.Flags().StringVar(&deviceID, "device-id", "", "override device.device_id and ack.device_id")
	rootCmd.Flags().BoolVar(&checkOnly, "check", false, "validate the configuration, print a summary and exit")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func loadServiceConfig(path, device string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if device != "" {
		cfg.Device.DeviceID = device
		cfg.Ack.DeviceID = device
	}
	return cfg, nil
}

// describeConfig prints the settings that decide how limits are resolved.
func describeConfig(w io.Writer, cfg *config.Config) error {
	policies := make([]string, 0, len(cfg.Policies))
	for _, p := range cfg.Policies {
		policies = append(policies, p.Type)
	}
	caps := "all"
	if len(cfg.Device.Capabilities) > 0 {
		caps = strings.Join(cfg.Device.Capabilities, ",")
	}
	ramp := fmt.Sprintf("%g %%/s", cfg.Control.Ramp.PercentPerSecond)
	if cfg.Control.Ramp.Disabled {
		ramp = "disabled"
	}
	var feeds []string
	if cfg.MQTT.Broker != "" {
		feeds = append(feeds, "mqtt "+cfg.MQTT.Broker)
	}
	if cfg.Control.EventsFile != "" {
		feeds = append(feeds, "file "+cfg.Control.EventsFile)
	}
	if len(feeds) == 0 {
		feeds = append(feeds, "none")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"device", cfg.Device.DeviceID},
		{"capabilities", caps},
		{"rated power", fmt.Sprintf("%g W", cfg.Device.RatedPowerW)},
		{"ramp", ramp},
		{"ack mode", string(cfg.Ack.Mode)},
		{"policies", strings.Join(policies, ",")},
		{"event feeds", strings.Join(feeds, ", ")},
		{"modbus", fmt.Sprintf("%t", cfg.Modbus.Enabled)},
		{"setpoint log", cfg.SetpointLog.Backend},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(tw, "%s\t%s\n", r[0], r[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServiceConfig(cfgPath, deviceID)
	if err != nil {
		return err
	}
	if checkOnly {
		return describeConfig(cmd.OutOrStdout(), cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
