package telemetry

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// DefaultConsoleCapacity is the number of console entries kept per session.
	DefaultConsoleCapacity = 1000
	// MaxConsoleTextLen bounds each message and argument, in runes.
	MaxConsoleTextLen = 1000
	// MaxConsoleArgs bounds the number of arguments kept per entry.
	MaxConsoleArgs = 20

	truncatedSuffix = "...[truncated]"
)

// Console levels reported by the plugin runtime.
const (
	LevelLog   = "log"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelDebug = "debug"
)

// ConsoleEntry is one captured console call.
type ConsoleEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Args      []string  `json:"args,omitempty"`
	Stack     string    `json:"stack,omitempty"`
}

// ConsoleFilter narrows a console read. Zero values mean "no constraint".
type ConsoleFilter struct {
	// Count limits the result to the most recent N matching entries.
	Count int
	// Since drops entries older than this instant.
	Since time.Time
	// Level keeps only entries at this level; "" and "all" keep everything.
	Level string
}

// NewConsoleEntry builds an entry with every text field truncated to
// [MaxConsoleTextLen]. A zero timestamp is replaced with now.
func NewConsoleEntry(ts time.Time, level, message string, args []string, stack string) ConsoleEntry {
	if ts.IsZero() {
		ts = time.Now()
	}
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = LevelLog
	}
	if len(args) > MaxConsoleArgs {
		args = args[:MaxConsoleArgs]
	}
	var kept []string
	if len(args) > 0 {
		kept = make([]string, len(args))
		for i, a := range args {
			kept[i] = Truncate(a, MaxConsoleTextLen)
		}
	}
	return ConsoleEntry{
		Timestamp: ts,
		Level:     level,
		Message:   Truncate(message, MaxConsoleTextLen),
		Args:      kept,
		Stack:     Truncate(stack, MaxConsoleTextLen),
	}
}

func (f ConsoleFilter) match(e ConsoleEntry) bool {
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	lvl := strings.ToLower(strings.TrimSpace(f.Level))
	if lvl != "" && lvl != "all" && e.Level != lvl {
		return false
	}
	return true
}

// FilterConsole applies f to entries (oldest first) without modifying them.
func FilterConsole(entries []ConsoleEntry, f ConsoleFilter) []ConsoleEntry {
	out := make([]ConsoleEntry, 0, len(entries))
	for _, e := range entries {
		if f.match(e) {
			out = append(out, e)
		}
	}
	return lastN(out, f.Count)
}

// Truncate shortens s to at most max runes, marking the cut.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + truncatedSuffix
}
