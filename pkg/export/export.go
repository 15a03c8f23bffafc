// Package export writes setpoint log records as JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/core/setpointlog"
)

// WriteJSON writes the records to w as a JSON array.
func WriteJSON(w io.Writer, recs []setpointlog.Record) error {
	if recs == nil {
		recs = []setpointlog.Record{}
	}
	enc := json.NewEncoder(w)
	return enc.Encode(recs)
}

// Header returns the CSV column names: the timestamp, one column per control
// field holding the commanded value, then the constraining sources and
// winning events of each field.
func Header() []string {
	h := []string{"timestamp"}
	for _, f := range model.AllFields() {
		h = append(h, f.String())
	}
	return append(h, "constrainers", "winners", "rated_power_w", "applied", "error")
}

// WriteCSV writes the records to w in CSV format. Unset fields are empty.
func WriteCSV(w io.Writer, recs []setpointlog.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	for _, r := range recs {
		row := []string{r.Timestamp.UTC().Format(time.RFC3339)}
		for _, f := range model.AllFields() {
			v, ok := r.Limit.Get(f)
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
		}
		row = append(row,
			joinConstrainers(r.Constrainers),
			joinWinners(r.Winners),
			strconv.FormatFloat(r.RatedPowerW, 'f', -1, 64),
			strconv.FormatBool(r.Applied),
			r.Error,
		)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Write dispatches on format ("csv" or "json").
func Write(w io.Writer, format string, recs []setpointlog.Record) error {
	switch strings.ToLower(format) {
	case "csv":
		return WriteCSV(w, recs)
	case "json":
		return WriteJSON(w, recs)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// joinConstrainers renders field=src1|src2 pairs in field order.
func joinConstrainers(m map[model.ControlField][]model.LimitSource) string {
	parts := make([]string, 0, len(m))
	for _, f := range model.AllFields() {
		srcs, ok := m[f]
		if !ok {
			continue
		}
		names := make([]string, len(srcs))
		for i, s := range srcs {
			names[i] = string(s)
		}
		parts = append(parts, f.String()+"="+strings.Join(names, "|"))
	}
	return strings.Join(parts, ";")
}

func joinWinners(m map[model.ControlField]string) string {
	parts := make([]string, 0, len(m))
	for _, f := range model.AllFields() {
		if id, ok := m[f]; ok {
			parts = append(parts, f.String()+"="+id)
		}
	}
	return strings.Join(parts, ";")
}
