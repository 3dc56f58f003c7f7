package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// maxErrorLen bounds logged errors. Extraction failures can embed a whole
// model answer.
const maxErrorLen = 1024

var secretKeys = map[string]struct{}{
	"api_key":       {},
	"gemini_key":    {},
	"authorization": {},
}

func NewJSONLogger(service, level string) *slog.Logger {
	return New(os.Stdout, service, level)
}

// New writes JSON records to w. Command line tools pass os.Stderr so their
// report on stdout stays clean.
func New(w io.Writer, service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: scrub,
	})
	return slog.New(handler).With("service", service)
}

func scrub(_ []string, a slog.Attr) slog.Attr {
	if _, ok := secretKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, "[redacted]")
	}
	if err, ok := a.Value.Any().(error); ok && a.Value.Kind() == slog.KindAny {
		msg := err.Error()
		if len(msg) > maxErrorLen {
			msg = msg[:maxErrorLen] + "...(truncated)"
		}
		return slog.String(a.Key, msg)
	}
	return a
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
