package gelfpipe

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelCritical sits above slog.LevelError; slog has no built-in name for it.
const LevelCritical = slog.Level(12)

// Level pairs a level name with its syslog severity (0 most severe, 7 least)
// and the slog level used by the local handler.
type Level struct {
	Name     string
	Severity int
	Slog     slog.Level
}

var levels = []Level{
	{Name: "critical", Severity: 0, Slog: LevelCritical},
	{Name: "error", Severity: 3, Slog: slog.LevelError},
	{Name: "warning", Severity: 4, Slog: slog.LevelWarn},
	{Name: "info", Severity: 6, Slog: slog.LevelInfo},
	{Name: "debug", Severity: 7, Slog: slog.LevelDebug},
}

// DefaultLevel is used when no level is given.
const DefaultLevel = "info"

// ParseLevel looks up a level by name, ignoring case.
func ParseLevel(name string) (Level, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, l := range levels {
		if l.Name == n {
			return l, nil
		}
	}
	return Level{}, newError(KindConfiguration, "parse level",
		fmt.Errorf("unknown level %q, want one of critical|error|warning|info|debug", name))
}

// SeverityOf maps an arbitrary slog level onto the syslog severity of the
// nearest named level at or below it.
func SeverityOf(l slog.Level) int {
	switch {
	case l >= LevelCritical:
		return 0
	case l >= slog.LevelError:
		return 3
	case l >= slog.LevelWarn:
		return 4
	case l >= slog.LevelInfo:
		return 6
	}
	return 7
}
