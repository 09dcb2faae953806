package log

import (
	"fmt"
	"log/slog"

	"github.com/levenlabs/go-llog"
)

// SyncLevel sets the default slog level from llog's level. lflag sets llog's
// level from --log-level but knows nothing about slog, so binaries call this
// after lflag.Configure.
func SyncLevel() (slog.Level, error) {
	var level slog.Level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", llog.GetLevel().String())
	}
	SetDefaultLogLevel(level)
	return level, nil
}
