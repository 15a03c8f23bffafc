package logger

// Logger is the logging surface used across the control engine.
type Logger interface {
	Debugf(format string, args ...any)
	// Debugw logs a message with structured fields.
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Config selects the log level and output format.
type Config struct {
	Level string `json:"level" yaml:"level"`
	// Format is "json" or "console". Empty falls back to APP_ENV detection.
	Format string `json:"format" yaml:"format"`
}
