// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package logging sets up structured logging to the console, and optionally
// also to a file.
package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	Level   string    // zerolog level name, defaults to info
	File    string    // optional additional log file, truncated on open
	Console io.Writer // defaults to stdout
	NoColor bool
}

// A logger and the file it also writes to, if any
type Logger struct {
	zerolog.Logger
	file   *os.File
	buffer *bufio.Writer
}

// Creates a logger writing human-readable lines to the console and, if configured,
// JSON lines to a file.
func New(opts Options) (*Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}
	out := opts.Console
	if out == nil {
		out = os.Stdout
	}
	console := zerolog.ConsoleWriter{Out: out, NoColor: opts.NoColor, TimeFormat: time.TimeOnly}

	res := &Logger{}
	var w io.Writer = console
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return nil, err
		}
		res.file = f
		res.buffer = bufio.NewWriter(f)
		w = zerolog.MultiLevelWriter(console, res.buffer)
	}
	res.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	return res, nil
}

// Flushes and closes the log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.buffer.Flush(); err != nil {
		l.file.Close()
		return err
	}
	err := l.file.Close()
	l.file, l.buffer = nil, nil
	return err
}

// Returns a logger that writes plain text lines to w without colors, for
// streaming a job log to a client.
func NewStream(w io.Writer, level zerolog.Level) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.TimeOnly}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}

// Derives a logger tagged with the given subsystem
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
