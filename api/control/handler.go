// Package control exposes the live state of the control loop.
package control

import (
	"encoding/json"
	"net/http"

	"github.com/kilianp07/dercontrol/core/coordinator"
	"github.com/kilianp07/dercontrol/core/model"
	"github.com/kilianp07/dercontrol/core/policy"
	"github.com/kilianp07/dercontrol/infra/price"
)

// Controller is the read side of the coordinator.
type Controller interface {
	ControlSchedules(f model.ControlField) []model.EffectiveSchedule
	LastSetpoint() (coordinator.Setpoint, bool)
}

// PriceSource lists known spot prices.
type PriceSource interface {
	Points() []policy.PricePoint
}

// Authorized checks the bearer token when token is non-empty and writes a
// 401 otherwise.
func Authorized(w http.ResponseWriter, r *http.Request, token string) bool {
	if token == "" || r.Header.Get("Authorization") == "Bearer "+token {
		return true
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// NewSchedulesHandler serves GET /api/schedules?field=export_limit. Without a
// field it returns the schedules of every field keyed by field name.
func NewSchedulesHandler(c Controller, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !Authorized(w, r, token) {
			return
		}
		if name := r.URL.Query().Get("field"); name != "" {
			f, err := model.ParseControlField(name)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			out := c.ControlSchedules(f)
			if out == nil {
				out = []model.EffectiveSchedule{}
			}
			writeJSON(w, out)
			return
		}
		all := make(map[string][]model.EffectiveSchedule)
		for _, f := range model.AllFields() {
			if s := c.ControlSchedules(f); len(s) > 0 {
				all[f.String()] = s
			}
		}
		writeJSON(w, all)
	})
}

// NewSetpointHandler serves GET /api/setpoint with the last computed setpoint.
func NewSetpointHandler(c Controller, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !Authorized(w, r, token) {
			return
		}
		sp, ok := c.LastSetpoint()
		if !ok {
			http.Error(w, "no setpoint computed yet", http.StatusNotFound)
			return
		}
		writeJSON(w, sp)
	})
}

// NewPriceChartHandler serves GET /api/prices/chart as an HTML page.
func NewPriceChartHandler(p PriceSource, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Authorized(w, r, token) {
			return
		}
		html, err := price.ChartHTML(p.Points())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
	})
}
