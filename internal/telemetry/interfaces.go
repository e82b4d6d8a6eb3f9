package telemetry

import (
	"fmt"

	"go.uber.org/zap"

	"spellforge/server/logging"
)

// Logger exposes the logging capabilities required by runtime components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapZap routes Printf-style diagnostics into a zap logger at info level.
// The formatted line is attached as the message with the component name
// as a structured field.
func WrapZap(logger *zap.Logger, component string) Logger {
	if logger == nil {
		return &zapAdapter{}
	}
	if component != "" {
		logger = logger.With(zap.String("component", component))
	}
	return &zapAdapter{logger: logger}
}

type zapAdapter struct {
	logger *zap.Logger
}

func (z *zapAdapter) Printf(format string, args ...any) {
	if z == nil || z.logger == nil {
		return
	}
	z.logger.Info(fmt.Sprintf(format, args...))
}

// NopLogger discards every line.
func NopLogger() Logger {
	return LoggerFunc(func(string, ...any) {})
}

// Metrics exposes the telemetry methods required by runtime components.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// WrapMetrics adapts the logging metrics registry into the Metrics interface.
func WrapMetrics(metrics *logging.Metrics) Metrics {
	return &metricsAdapter{metrics: metrics}
}

type metricsAdapter struct {
	metrics *logging.Metrics
}

func (m *metricsAdapter) Add(key string, delta uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryAdd(key, delta)
}

func (m *metricsAdapter) Store(key string, value uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryStore(key, value)
}
