// Package logging builds the slog loggers used by the bot and exposes the log
// stream to consumers such as a log panel.
package logging

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel converts debug|info|warn|error to a slog.Level. Unknown values map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New returns a logger writing to w in text or json format.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ChanWriter buffers writes and sends complete lines to Ch. Lines are dropped
// when the channel is full so that logging never blocks a run.
type ChanWriter struct {
	Ch  chan<- string
	buf []byte
}

func (w *ChanWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(w.buf[:i])
		w.buf = w.buf[i+1:]
		select {
		case w.Ch <- line:
		default:
		}
	}
	return len(p), nil
}

// NewChanLogger returns a text logger whose lines are delivered on ch.
func NewChanLogger(ch chan<- string, level string) *slog.Logger {
	return New(&ChanWriter{Ch: ch}, level, "text")
}

// Drain writes every line received on ch to w until ch is closed.
func Drain(ch <-chan string, w io.Writer) error {
	for line := range ch {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// Tee duplicates every record to both handlers.
func Tee(a, b *slog.Logger) *slog.Logger {
	return slog.New(teeHandler{a.Handler(), b.Handler()})
}
