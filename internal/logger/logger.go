// Package logger configures the process-wide logrus logger.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ayusman/posecapture/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Init sets the level, formatter and outputs of the standard logrus logger.
// An unknown level falls back to info. When cfg.File is set, log lines also go
// to a rotating file; the returned Closer closes it.
func Init(cfg config.LogConfig) (io.Closer, error) {
	level, err := log.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		log.Warnf("Unknown log level %q, using info", cfg.Level)
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if cfg.File == "" {
		log.SetOutput(os.Stdout)
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, err
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		LocalTime:  true,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, file))

	log.WithFields(log.Fields{
		"level": level.String(),
		"file":  cfg.File,
	}).Debug("logging initialised")

	return file, nil
}
