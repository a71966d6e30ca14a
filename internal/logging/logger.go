// Package logging builds the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON logger writing to stdout at the named level. Unknown
// level names fall back to info.
func New(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// MaskToken shortens an API credential to its edges so its presence can be
// logged without leaking it.
func MaskToken(tok string) string {
	tok = strings.TrimSpace(tok)
	switch {
	case tok == "":
		return ""
	case len(tok) <= 8:
		return "***"
	default:
		return tok[:3] + "***" + tok[len(tok)-3:]
	}
}
