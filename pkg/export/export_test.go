package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/core/setpointlog"
)

func sample() []setpointlog.Record {
	return []setpointlog.Record{{
		Timestamp: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		Limit:     model.InverterControlLimit{ExportLimitW: model.Ptr(1500.0), Connect: model.Ptr(true)},
		Constrainers: map[model.ControlField][]model.LimitSource{
			model.FieldExportLimit: {model.SourceCSIP, model.SourceFixed},
		},
		Winners:     map[model.ControlField]string{model.FieldExportLimit: "E1"},
		RatedPowerW: 5000,
		Applied:     true,
	}}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sample()))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	header, row := rows[0], rows[1]
	require.Len(t, row, len(header))

	col := func(name string) string {
		for i, h := range header {
			if h == name {
				return row[i]
			}
		}
		t.Fatalf("column %s missing", name)
		return ""
	}
	assert.Equal(t, "2025-06-02T10:00:00Z", col("timestamp"))
	assert.Equal(t, "1500", col("export_limit"))
	assert.Equal(t, "1", col("connect"))
	assert.Equal(t, "", col("import_limit"))
	assert.Equal(t, "export_limit=csip|fixed", col("constrainers"))
	assert.Equal(t, "export_limit=E1", col("winners"))
	assert.Equal(t, "true", col("applied"))
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sample()))
	var got []setpointlog.Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "E1", got[0].Winners[model.FieldExportLimit])

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWriteUnknownFormat(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, "xml", nil))
	assert.NoError(t, Write(&bytes.Buffer{}, "CSV", nil))
}
