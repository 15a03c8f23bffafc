package config

import (
	"fmt"
	"strings"

	corelogger "github.com/kilianp07/dercontrol/core/logger"
	"github.com/kilianp07/dercontrol/core/setpointlog"
)

func validateLogging(c corelogger.Config) error {
	switch strings.ToLower(c.Level) {
	case "", "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("unknown level %s", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("unknown format %s", c.Format)
	}
	return nil
}

func validateSetpointLog(c setpointlog.Config) error {
	switch c.Backend {
	case "":
		return nil
	case "jsonl", "rotating_jsonl", "sqlite":
	default:
		return fmt.Errorf("unknown backend %s", c.Backend)
	}
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}
