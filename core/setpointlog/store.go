// Package setpointlog persists the setpoint decided on every control tick so
// that curtailment decisions can be audited later.
package setpointlog

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/dercontrol/core/model"
)

// Record captures one tick decision.
type Record struct {
	Timestamp    time.Time                                  `json:"timestamp"`
	Limit        model.InverterControlLimit                 `json:"limit"`
	Remote       model.InverterControlLimit                 `json:"remote"`
	Constrainers map[model.ControlField][]model.LimitSource `json:"constrainers,omitempty"`
	Winners      map[model.ControlField]string              `json:"winners,omitempty"`
	RatedPowerW  float64                                    `json:"rated_power_w"`
	Applied      bool                                       `json:"applied"`
	Error        string                                     `json:"error,omitempty"`
}

// Query defines filters for retrieving records.
type Query struct {
	Start time.Time
	End   time.Time
	// MRID keeps records where the event won at least one field.
	MRID string
	// Source keeps records where the source constrained at least one field.
	Source model.LimitSource
}

func (q Query) match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.MRID != "" {
		found := false
		for _, id := range r.Winners {
			if id == q.MRID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Source != "" {
		found := false
		for _, srcs := range r.Constrainers {
			for _, s := range srcs {
				if s == q.Source {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Config selects and configures the store backend.
type Config struct {
	// Backend is "jsonl", "rotating_jsonl", "sqlite" or empty for none.
	Backend    string `json:"backend" yaml:"backend"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// New opens the configured store. An empty backend returns a NopStore.
func New(c Config) (Store, error) {
	switch c.Backend {
	case "":
		return NopStore{}, nil
	case "jsonl":
		return NewJSONLStore(c.Path)
	case "rotating_jsonl":
		size := c.MaxSizeMB
		if size <= 0 {
			size = 10
		}
		return NewRotatingJSONLStore(c.Path, size, c.MaxBackups, c.MaxAgeDays)
	case "sqlite":
		return NewSQLiteStore(c.Path)
	default:
		return nil, fmt.Errorf("unknown setpoint log backend %q", c.Backend)
	}
}

// NopStore discards every record.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error         { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                 { return nil }
