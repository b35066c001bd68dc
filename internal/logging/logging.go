// Package logging builds the zerolog logger used across the relay and
// adapts it to an attached operator console.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LineTimeFormat is the timestamp layout of console lines.
const LineTimeFormat = "2006-01-02 15:04:05"

// Console is an operator display that shows log lines and is told once the
// server is accepting connections.
type Console interface {
	WriteLine(line string)
	ServerStarted()
}

// NopConsole discards everything.
type NopConsole struct{}

func (NopConsole) WriteLine(string) {}
func (NopConsole) ServerStarted() {}

// Options selects the logger's level and outputs.
type Options struct {
	Level   string
	JSON    bool
	Output  io.Writer
	Console Console
}

// New builds a logger. Events go to Output (stderr by default), as JSON or
// human-readable text, and to Console when one is attached.
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("logging: invalid level %q: %w", opts.Level, err)
		}
		if parsed != zerolog.NoLevel {
			level = parsed
		}
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	writers := make([]io.Writer, 0, 2)
	if opts.JSON {
		writers = append(writers, out)
	} else {
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	if opts.Console != nil {
		writers = append(writers, ConsoleWriter(opts.Console))
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger(), nil
}

// ConsoleWriter renders each event as a "[yyyy-mm-dd hh:mm:ss] message k=v"
// line and hands it to c.
func ConsoleWriter(c Console) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        &lineWriter{console: c},
		NoColor:    true,
		PartsOrder: []string{zerolog.TimestampFieldName, zerolog.MessageFieldName},
		FormatTimestamp: func(i interface{}) string {
			raw := fmt.Sprint(i)
			ts, err := time.Parse(zerolog.TimeFieldFormat, raw)
			if err != nil {
				return "[" + raw + "]"
			}
			return "[" + ts.Local().Format(LineTimeFormat) + "]"
		},
	}
}

// lineWriter splits writes into lines for a Console.
type lineWriter struct {
	mu      sync.Mutex
	console Console
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimRight(line, "\r ")
		if line != "" {
			w.console.WriteLine(line)
		}
	}
	return len(p), nil
}
