package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process-wide logger
type Options struct {
	Level      string
	Format     string // text, json
	Output     string // stdout, file, both
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init configures the logrus standard logger. Call once from main.
func Init(opts Options) {
	level, err := logrus.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if opts.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logrus.SetOutput(output(opts))
}

func output(opts Options) io.Writer {
	if opts.Output != "file" && opts.Output != "both" {
		return os.Stdout
	}

	path := opts.Path
	if path == "" {
		path = "./logs/app.log"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logrus.WithError(err).Warn("Log directory unavailable, logging to stdout")
		return os.Stdout
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	if opts.Output == "both" {
		return io.MultiWriter(os.Stdout, file)
	}
	return file
}

// WithModule returns an entry tagged with the component name
func WithModule(module string) *logrus.Entry {
	return logrus.WithField("module", module)
}

// WithJob returns a module entry scoped to one job
func WithJob(module, jobID string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"module": module,
		"job_id": jobID,
	})
}

// WithFields returns an entry with arbitrary fields
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return logrus.WithFields(fields)
}

// WithError returns an entry carrying err
func WithError(err error) *logrus.Entry {
	return logrus.WithError(err)
}
