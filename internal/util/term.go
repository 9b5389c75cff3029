package util

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// ShouldUseColors decides colour output. NO_COLOR always wins
// (https://no-color.org/), FORCE_COLOR and CMW_FORCE_COLORS override the
// TTY check in both directions.
func ShouldUseColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}

	if force := os.Getenv("FORCE_COLOR"); force != "" {
		return force != "0"
	}

	if force := os.Getenv("CMW_FORCE_COLORS"); force != "" {
		return strings.EqualFold(force, "true")
	}

	return IsTerminal()
}
