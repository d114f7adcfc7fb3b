// Copyright (c) 2026 John Earle
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

// Package console formats operator-facing output and configures the
// structured logger.
package console

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"
)

// Console prints colored lines for the operator. Logs go through slog;
// this is for the things a human is expected to read and answer.
type Console struct {
	out     io.Writer
	info    *color.Color
	success *color.Color
	failure *color.Color
	warn    *color.Color
	banner  *color.Color
	accent  *color.Color
}

// New creates a Console writing to out. With colors false every line is
// written plain.
func New(out io.Writer, colors bool) *Console {
	c := &Console{
		out:     out,
		info:    color.New(color.FgCyan),
		success: color.New(color.FgGreen),
		failure: color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		banner:  color.New(color.FgMagenta, color.Bold),
		accent:  color.New(color.FgGreen),
	}
	for _, col := range []*color.Color{c.info, c.success, c.failure, c.warn, c.banner, c.accent} {
		if colors {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

// Info prints v as indented JSON, or as text when it cannot be marshaled.
func (c *Console) Info(v any) {
	if s, ok := v.(string); ok {
		c.info.Fprintln(c.out, s)
		return
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		c.info.Fprintln(c.out, fmt.Sprint(v))
		return
	}
	c.info.Fprint(c.out, buf.String())
}

// Plain prints text without decoration.
func (c *Console) Plain(text string) {
	fmt.Fprintln(c.out, text)
}

// Success prints a green line.
func (c *Console) Success(text string) {
	if text != "" {
		c.success.Fprintln(c.out, text)
	}
}

// Warn prints a yellow line.
func (c *Console) Warn(text string) {
	if text != "" {
		c.warn.Fprintln(c.out, text)
	}
}

// Error prints a red line.
func (c *Console) Error(text string) {
	if text != "" {
		c.failure.Fprintln(c.out, text)
	}
}

// Usage prints the command banner and argument synopsis.
func (c *Console) Usage(name, version string) {
	c.banner.Fprintf(c.out, "%s %s\n", name, version)
	fmt.Fprintf(c.out, "usage: %s %sx%s...\n", name, c.accent.Sprint("(days)"), c.accent.Sprint("(daily-rate)"))
	fmt.Fprintf(c.out, "example: %s 12x400 8x500\n", name)
}

// NewLogger builds a slog logger writing to w at level ("debug", "info",
// "warn" or "error") as text, or JSON when asJSON is set.
func NewLogger(w io.Writer, level string, asJSON bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
