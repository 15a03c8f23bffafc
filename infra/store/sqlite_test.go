package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilianp07/dercontrol/core/defaults"
	"github.com/kilianp07/dercontrol/core/model"
)

var _ defaults.Store = (*SQLiteStore)(nil)

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok, err := s.Load(ctx); err != nil || ok {
		t.Fatalf("expected empty store, ok=%v err=%v", ok, err)
	}
	at := time.Unix(1_700_000_000, 0).UTC()
	dc := model.DefaultControl{
		Values:    model.ControlValues{model.FieldExportLimit: 2500, model.FieldConnect: 1},
		UpdatedAt: at,
	}
	if err := s.Save(ctx, dc); err != nil {
		t.Fatalf("save: %v", err)
	}
	dc.Values[model.FieldExportLimit] = 1000
	if err := s.Save(ctx, dc); err != nil {
		t.Fatalf("save again: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s.Close() }()
	got, ok, err := s.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Values[model.FieldExportLimit] != 1000 || got.Values[model.FieldConnect] != 1 {
		t.Fatalf("unexpected values %+v", got.Values)
	}
	if !got.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected timestamp %v", got.UpdatedAt)
	}

	c, err := defaults.NewCache(ctx, s)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	if v, _ := c.Value(model.FieldExportLimit); v != 1000 {
		t.Fatalf("cache did not load persisted value, got %v", v)
	}
}
