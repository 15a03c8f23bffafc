package setpointlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilianp07/dercontrol/core/model"
)

func record(ts time.Time, export float64, mrid string, src model.LimitSource) Record {
	return Record{
		Timestamp:    ts,
		Limit:        model.InverterControlLimit{Source: model.SourceAggregate, ExportLimitW: model.Ptr(export)},
		Constrainers: map[model.ControlField][]model.LimitSource{model.FieldExportLimit: {src}},
		Winners:      map[model.ControlField]string{model.FieldExportLimit: mrid},
		RatedPowerW:  5000,
		Applied:      true,
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()
	recs := []Record{
		record(base, 5000, "", model.SourceFixed),
		record(base.Add(time.Minute), 0, "E1", model.SourceCSIP),
		record(base.Add(2*time.Minute), 0, "E1", model.SourceCSIP),
	}
	for _, r := range recs {
		if err := store.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := store.Query(ctx, Query{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if *all[1].Limit.ExportLimitW != 0 || all[1].Winners[model.FieldExportLimit] != "E1" {
		t.Fatalf("record not round tripped: %+v", all[1])
	}

	byEvent, err := store.Query(ctx, Query{MRID: "E1"})
	if err != nil || len(byEvent) != 2 {
		t.Fatalf("mrid filter: %d records, err %v", len(byEvent), err)
	}
	bySource, err := store.Query(ctx, Query{Source: model.SourceFixed})
	if err != nil || len(bySource) != 1 {
		t.Fatalf("source filter: %d records, err %v", len(bySource), err)
	}
	ranged, err := store.Query(ctx, Query{Start: base.Add(30 * time.Second), End: base.Add(90 * time.Second)})
	if err != nil || len(ranged) != 1 {
		t.Fatalf("range filter: %d records, err %v", len(ranged), err)
	}
}

func TestJSONLStore(t *testing.T) {
	store, err := NewJSONLStore(filepath.Join(t.TempDir(), "setpoints.jsonl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	exerciseStore(t, store)
}

func TestRotatingJSONLStore(t *testing.T) {
	store, err := NewRotatingJSONLStore(filepath.Join(t.TempDir(), "log", "setpoints.jsonl"), 1, 2, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	exerciseStore(t, store)
}

func TestRotatingJSONLStoreQueryBeforeWrite(t *testing.T) {
	store, err := NewRotatingJSONLStore(filepath.Join(t.TempDir(), "setpoints.jsonl"), 1, 2, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	out, err := store.Query(context.Background(), Query{})
	if err != nil || len(out) != 0 {
		t.Fatalf("expected empty result, got %d records err %v", len(out), err)
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "setpoints.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	exerciseStore(t, store)
}

func TestNewStore(t *testing.T) {
	s, err := New(Config{})
	if err != nil {
		t.Fatalf("nop: %v", err)
	}
	if _, ok := s.(NopStore); !ok {
		t.Fatalf("expected NopStore got %T", s)
	}
	s, err = New(Config{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	_ = s.Close()
	if _, err := New(Config{Backend: "csv"}); err == nil {
		t.Fatal("expected unknown backend error")
	}
}

func TestSummarize(t *testing.T) {
	base := time.Unix(0, 0)
	recs := []Record{
		record(base, 1000, "", model.SourceFixed),
		record(base, 3000, "", model.SourceFixed),
		{Timestamp: base},
	}
	s := Summarize(recs, model.FieldExportLimit)
	if s.Count != 2 || s.Min != 1000 || s.Max != 3000 || s.Mean != 2000 || s.Applied != 2 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.StdDev < 1414 || s.StdDev > 1415 {
		t.Fatalf("unexpected std dev %v", s.StdDev)
	}
	if one := Summarize(recs[:1], model.FieldExportLimit); one.StdDev != 0 {
		t.Fatalf("single value std dev should be 0, got %v", one.StdDev)
	}
	if empty := Summarize(nil, model.FieldLoadLimit); empty.Count != 0 || empty.Field != "load_limit" {
		t.Fatalf("unexpected empty summary %+v", empty)
	}
}
