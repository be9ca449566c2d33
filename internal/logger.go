package internal

import (
	"io"
	"log/slog"
	"time"
)

// NewLogger builds the process-wide slog.Logger. Production gets JSON with
// RFC3339Nano timestamps so aggregated logs sort cleanly across concurrent
// webhook deliveries; everything else gets the text handler.
func NewLogger(w io.Writer, env string, level string) *slog.Logger {
	lv := new(slog.LevelVar)
	lv.Set(parseLevel(level))

	if env == "prod" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: lv,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.String("time", a.Value.Time().Format(time.RFC3339Nano))
				}
				return a
			},
		}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv}))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
