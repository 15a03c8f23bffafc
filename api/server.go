// Package api serves the diagnostic HTTP endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/kilianp07/dercontrol/api/control"
	"github.com/kilianp07/dercontrol/api/setpoints"
	"github.com/kilianp07/dercontrol/core/setpointlog"
	"github.com/kilianp07/dercontrol/infra/logger"
)

// Config configures the diagnostic API.
type Config struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	// Token, when set, must be sent as a bearer token.
	Token string `json:"token"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// Deps lists the data sources behind the endpoints. Nil sources disable
// their endpoints.
type Deps struct {
	Controller control.Controller
	Setpoints  setpointlog.Store
	Prices     control.PriceSource
}

// NewMux registers every endpoint backed by deps.
func NewMux(deps Deps, token string) *http.ServeMux {
	mux := http.NewServeMux()
	if deps.Controller != nil {
		mux.Handle("/api/schedules", control.NewSchedulesHandler(deps.Controller, token))
		mux.Handle("/api/setpoint", control.NewSetpointHandler(deps.Controller, token))
	}
	if deps.Setpoints != nil {
		mux.Handle("/api/setpoints", setpoints.NewLogHandler(deps.Setpoints, token))
		mux.Handle("/api/setpoints/summary", setpoints.NewSummaryHandler(deps.Setpoints, token))
		mux.Handle("/api/setpoints/chart", setpoints.NewChartHandler(deps.Setpoints, token))
	}
	if deps.Prices != nil {
		mux.Handle("/api/prices/chart", control.NewPriceChartHandler(deps.Prices, token))
	}
	return mux
}

// Serve runs an HTTP server on addr until the context is canceled.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	log := logger.New("api")
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("api server shutdown: %v", err)
		}
		cancel()
	}()
	log.Infof("serving api on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
