package logx

import (
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// lookupLevel accepts zerolog's names case-insensitively plus "warning".
// Fatal/panic/disabled are not exposed in config.
func lookupLevel(s string) (Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	if s == "" {
		return zerolog.InfoLevel, true
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl < zerolog.TraceLevel || lvl > zerolog.ErrorLevel {
		return zerolog.InfoLevel, false
	}
	return lvl, true
}

// ParseLevel maps a config string to a level; unknown or empty means info.
func ParseLevel(s string) Level {
	lvl, _ := lookupLevel(s)
	return lvl
}

// ValidLevel reports whether s names a known level (empty means default).
func ValidLevel(s string) bool {
	_, ok := lookupLevel(s)
	return ok
}
