// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	console "github.com/phsym/console-slog"
)

// Options selects the handler.
type Options struct {
	// Level is debug, info, warn or error. Anything else means error.
	Level string
	// Format is "console" or "json". ENV=development forces console.
	Format string
	// File appends to a file instead of writing to Output.
	File string
	// Output defaults to stderr.
	Output io.Writer
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// New returns a logger and the closer of its output file, if any.
func New(o Options) (*slog.Logger, io.Closer, error) {
	var (
		out    = o.Output
		closer io.Closer
	)
	if o.File != "" {
		f, err := os.OpenFile(o.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		out, closer = f, f
	}
	if out == nil {
		out = os.Stderr
	}
	if closer == nil {
		closer = io.NopCloser(nil)
	}

	level := new(slog.LevelVar)
	level.Set(ParseLevel(o.Level))
	return slog.New(newHandler(out, o.Format, level)), closer, nil
}

func newHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	if os.Getenv("ENV") == "development" || strings.EqualFold(format, "console") {
		return console.NewHandler(w, &console.HandlerOptions{Level: level})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			return a
		},
	})
}
