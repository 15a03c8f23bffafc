package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	corelogger "github.com/kilianp07/dercontrol/core/logger"
)

var (
	cfgMu  sync.RWMutex
	cfg    corelogger.Config
	output io.Writer = os.Stdout
)

// Configure sets the level and format used by loggers created afterwards.
func Configure(c corelogger.Config) error {
	lvl := zerolog.InfoLevel
	if c.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(c.Level))
		if err != nil {
			return err
		}
		lvl = parsed
	}
	zerolog.SetGlobalLevel(lvl)
	cfgMu.Lock()
	cfg = c
	cfgMu.Unlock()
	return nil
}

// SetOutput redirects loggers created afterwards to w.
func SetOutput(w io.Writer) {
	cfgMu.Lock()
	output = w
	cfgMu.Unlock()
}

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a ZerologLogger. The console format is used when
// configured or when APP_ENV is "dev". All logs carry the component field.
func NewZerologLogger(component string) Logger {
	cfgMu.RLock()
	format, w := strings.ToLower(cfg.Format), output
	cfgMu.RUnlock()
	if format == "" && strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
		format = "console"
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	z := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: z}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	ev := l.log.Debug()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
