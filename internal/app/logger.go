package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"spellforge/server/internal/config"
	"spellforge/server/logging"
	"spellforge/server/logging/sinks"
)

// NewLogger builds the process zap logger from the logging section.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if strings.EqualFold(cfg.Format, "json") {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return logger, nil
}

// routerConfig maps the file settings onto the event router.
func routerConfig(cfg config.LoggingConfig) logging.Config {
	out := logging.DefaultConfig()
	if len(cfg.Sinks) > 0 {
		out.EnabledSinks = append([]string(nil), cfg.Sinks...)
	}
	if cfg.BufferSize > 0 {
		out.BufferSize = cfg.BufferSize
	}
	if len(cfg.RetainCategories) > 0 {
		out.RetainCategories = append([]string(nil), cfg.RetainCategories...)
	}
	out.MinimumSeverity = logging.ParseSeverity(cfg.Level)
	out.JSON.FilePath = cfg.JSONPath
	out.Console.UseColor = cfg.Color
	return out
}

// buildSinks opens every enabled sink. The returned closer releases files
// the sinks write to.
func buildSinks(cfg logging.Config, logger *zap.Logger) ([]logging.NamedSink, func() error, error) {
	var (
		named []logging.NamedSink
		files []*os.File
	)
	closeFiles := func() error {
		var firstErr error
		for _, file := range files {
			if err := file.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	for _, name := range cfg.EnabledSinks {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "console":
			named = append(named, logging.NamedSink{Name: "console", Sink: sinks.NewConsoleSink(os.Stdout, cfg.Console)})
		case "json":
			path := cfg.JSON.FilePath
			if path == "" {
				_ = closeFiles()
				return nil, nil, fmt.Errorf("json sink enabled without a file path")
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				_ = closeFiles()
				return nil, nil, fmt.Errorf("create json sink dir: %w", err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				_ = closeFiles()
				return nil, nil, fmt.Errorf("open json sink: %w", err)
			}
			files = append(files, file)
			flush := cfg.JSON.FlushInterval
			if flush <= 0 {
				flush = 2 * time.Second
			}
			named = append(named, logging.NamedSink{Name: "json", Sink: sinks.NewJSON(file, flush)})
		case "zap":
			named = append(named, logging.NamedSink{Name: "zap", Sink: sinks.NewZap(logger.Named("events"))})
		case "":
		default:
			_ = closeFiles()
			return nil, nil, fmt.Errorf("unknown log sink %q", name)
		}
	}
	return named, closeFiles, nil
}
