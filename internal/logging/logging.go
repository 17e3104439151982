// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"

	charmlog "github.com/charmbracelet/log"
	"github.com/natefinch/lumberjack"
)

type Options struct {
	Level     string
	File      string
	MaxSizeMB int
}

// New returns an slog.Logger backed by charmbracelet/log. When opts.File is
// set, output is also written to a size-rotated file. The returned closer
// releases the file.
func New(w io.Writer, opts Options) (*slog.Logger, io.Closer) {
	level, err := charmlog.ParseLevel(opts.Level)
	if err != nil {
		level = charmlog.InfoLevel
	}
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: 3,
		}
		w = io.MultiWriter(w, lj)
		closer = lj
	}
	h := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		Level:           level,
	})
	return slog.New(h), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
