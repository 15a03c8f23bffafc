package config

import "fmt"

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN              string  `json:"dsn"`
	Environment      string  `json:"environment"`
	TracesSampleRate float64 `json:"traces_sample_rate"`
	Release          string  `json:"release"`
	ServerName       string  `json:"server_name"`
}

func (s SentryConfig) Validate() error {
	if s.TracesSampleRate < 0 || s.TracesSampleRate > 1 {
		return fmt.Errorf("traces_sample_rate %.2f outside [0,1]", s.TracesSampleRate)
	}
	return nil
}
