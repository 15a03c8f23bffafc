// Package setpoints exposes the setpoint log.
package setpoints

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kilianp07/dercontrol/api/control"
	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/core/setpointlog"
)

// parseQuery reads start, end, mrid and source filters.
func parseQuery(r *http.Request) (setpointlog.Query, error) {
	q := setpointlog.Query{
		MRID:   r.URL.Query().Get("mrid"),
		Source: model.LimitSource(r.URL.Query().Get("source")),
	}
	if s := r.URL.Query().Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fmt.Errorf("invalid start: %w", err)
		}
		q.Start = t
	}
	if s := r.URL.Query().Get("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fmt.Errorf("invalid end: %w", err)
		}
		q.End = t
	}
	return q, nil
}

func query(w http.ResponseWriter, r *http.Request, store setpointlog.Store, token string) ([]setpointlog.Record, bool) {
	if !control.Authorized(w, r, token) {
		return nil, false
	}
	q, err := parseQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	recs, err := store.Query(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return recs, true
}

func fieldParam(w http.ResponseWriter, r *http.Request) (model.ControlField, bool) {
	name := r.URL.Query().Get("field")
	if name == "" {
		name = model.FieldExportLimit.String()
	}
	f, err := model.ParseControlField(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return f, true
}

// NewLogHandler serves GET /api/setpoints.
func NewLogHandler(store setpointlog.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recs, ok := query(w, r, store, token)
		if !ok {
			return
		}
		if recs == nil {
			recs = []setpointlog.Record{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(recs); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// NewSummaryHandler serves GET /api/setpoints/summary?field=export_limit.
func NewSummaryHandler(store setpointlog.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := fieldParam(w, r)
		if !ok {
			return
		}
		recs, ok := query(w, r, store, token)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(setpointlog.Summarize(recs, f)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// NewChartHandler serves GET /api/setpoints/chart?field=export_limit as an
// HTML line chart.
func NewChartHandler(store setpointlog.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := fieldParam(w, r)
		if !ok {
			return
		}
		recs, ok := query(w, r, store, token)
		if !ok {
			return
		}
		html, err := chartHTML(recs, f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
	})
}

func chartHTML(recs []setpointlog.Record, f model.ControlField) (string, error) {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Setpoint " + f.String()}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time"}),
	)
	var xAxis []string
	var yAxis []opts.LineData
	for _, rec := range recs {
		v, ok := rec.Limit.Get(f)
		if !ok {
			continue
		}
		xAxis = append(xAxis, rec.Timestamp.Format("2006-01-02 15:04:05"))
		yAxis = append(yAxis, opts.LineData{Value: v})
	}
	line.SetXAxis(xAxis).AddSeries(f.String(), yAxis)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return "", fmt.Errorf("failed to render chart: %w", err)
	}
	return buf.String(), nil
}
