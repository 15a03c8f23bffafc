package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/core/setpointlog"
)

func TestExportQuery(t *testing.T) {
	q, err := exportQuery("2025-06-02T10:00:00Z", "2025-06-02T11:00:00Z", "E1", "csip")
	require.NoError(t, err)
	assert.Equal(t, "E1", q.MRID)
	assert.Equal(t, model.SourceCSIP, q.Source)
	assert.Equal(t, time.Hour, q.End.Sub(q.Start))

	_, err = exportQuery("yesterday", "", "", "")
	assert.Error(t, err)
	_, err = exportQuery("2025-06-02T11:00:00Z", "2025-06-02T10:00:00Z", "", "")
	assert.Error(t, err)
}

func TestExportSetpoints(t *testing.T) {
	store, err := setpointlog.NewJSONLStore(filepath.Join(t.TempDir(), "setpoints.jsonl"))
	require.NoError(t, err)
	ctx := context.Background()
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	for i, mrid := range []string{"E1", "E2", "E1"} {
		require.NoError(t, store.Append(ctx, setpointlog.Record{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Limit:     model.InverterControlLimit{ExportLimitW: model.Ptr(float64(i * 1000))},
			Winners:   map[model.ControlField]string{model.FieldExportLimit: mrid},
			Applied:   true,
		}))
	}

	var buf bytes.Buffer
	require.NoError(t, exportSetpoints(ctx, &buf, store, setpointlog.Query{MRID: "E1"}, "csv"))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	buf.Reset()
	require.NoError(t, exportSetpoints(ctx, &buf, store, setpointlog.Query{}, "json"))
	assert.Contains(t, buf.String(), `"E2"`)

	assert.Error(t, exportSetpoints(ctx, &buf, store, setpointlog.Query{}, "xml"))
}
