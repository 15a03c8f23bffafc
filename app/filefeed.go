package app

import (
	"context"
	"os"
	"time"

	"github.com/kilianp07/dercontrol/core/coordinator"
	"github.com/kilianp07/dercontrol/core/logger"
	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/core/monitoring"
	"github.com/kilianp07/dercontrol/core/scheduler"
)

// fileFeed reloads an event fixture whenever its modification time changes
// and forwards the programs and default control to the coordinator.
type fileFeed struct {
	path     string
	interval time.Duration
	out      coordinator.Channels
	log      logger.Logger

	modTime time.Time
	known   map[string]model.Program
}

func newFileFeed(path string, interval time.Duration, out coordinator.Channels, log logger.Logger) *fileFeed {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &fileFeed{path: path, interval: interval, out: out, log: log, known: make(map[string]model.Program)}
}

func (f *fileFeed) Run(ctx context.Context) {
	defer monitoring.Recover("file_feed")
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		if err := f.poll(ctx); err != nil && ctx.Err() == nil {
			f.log.Errorf("event fixture %s: %v", f.path, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll loads the fixture when it changed. Programs missing from a reload
// are removed.
func (f *fileFeed) poll(ctx context.Context) error {
	st, err := os.Stat(f.path)
	if err != nil {
		return err
	}
	if !st.ModTime().After(f.modTime) {
		return nil
	}
	fx, err := scheduler.LoadEvents(f.path)
	if err != nil {
		return err
	}
	programs, err := fx.ProgramEvents()
	if err != nil {
		f.log.Warnf("event fixture %s: %v", f.path, err)
	}
	dc, hasDefault, err := fx.DefaultControl()
	if err != nil {
		f.log.Warnf("event fixture %s: ignore default control: %v", f.path, err)
		hasDefault = false
	}
	f.modTime = st.ModTime()

	seen := make(map[string]model.Program, len(programs))
	for _, pe := range programs {
		seen[pe.Program.ID] = pe.Program
		if !send(ctx, f.out.Programs, coordinator.ProgramUpdate{Program: pe.Program, Events: pe.Events}) {
			return ctx.Err()
		}
	}
	for id, p := range f.known {
		if _, ok := seen[id]; !ok {
			if !send(ctx, f.out.Programs, coordinator.ProgramUpdate{Program: p, Remove: true}) {
				return ctx.Err()
			}
		}
	}
	f.known = seen
	if hasDefault && !send(ctx, f.out.Defaults, dc) {
		return ctx.Err()
	}
	f.log.Infof("loaded %d programs from %s", len(programs), f.path)
	return nil
}

func send[T any](ctx context.Context, ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
