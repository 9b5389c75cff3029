package theme

import (
	"github.com/pterm/pterm"
)

// Theme groups the pterm styles the console handler and styled loggers
// draw from. Pick one with GetTheme; the zero value has nil styles.
type Theme struct {
	// Log level colours
	Debug *pterm.Style
	Info  *pterm.Style
	Warn  *pterm.Style
	Error *pterm.Style
	Fatal *pterm.Style

	// Component colours
	Success   *pterm.Style
	Highlight *pterm.Style
	Muted     *pterm.Style
	Accent    *pterm.Style

	// Structured log value colours
	Counts      *pterm.Style
	Worker      *pterm.Style
	HealthCheck *pterm.Style
	Numbers     *pterm.Style

	// Worker status colours
	HealthHealthy   *pterm.Style
	HealthBusy      *pterm.Style
	HealthOffline   *pterm.Style
	HealthUnhealthy *pterm.Style
	HealthUnknown   *pterm.Style

	// Functional colours
	Primary   pterm.Color
	Secondary pterm.Color
	Danger    pterm.Color
	Warning   pterm.Color
	Good      pterm.Color
}

// Default is the theme used when nothing else is configured
func Default() *Theme {
	return &Theme{
		// Log level styling
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgGreen),
		Warn:  pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgRed, pterm.Bold),
		Fatal: pterm.NewStyle(pterm.FgWhite, pterm.BgRed, pterm.Bold),

		// Component styling
		Success:   pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		Highlight: pterm.NewStyle(pterm.FgCyan, pterm.Bold),
		Muted:     pterm.NewStyle(pterm.FgGray),
		Accent:    pterm.NewStyle(pterm.FgMagenta),

		// Structured value styling
		Counts:      pterm.NewStyle(pterm.FgLightYellow),
		Worker:      pterm.NewStyle(pterm.FgCyan),
		HealthCheck: pterm.NewStyle(pterm.FgLightMagenta),
		Numbers:     pterm.NewStyle(pterm.FgLightYellow),

		// Worker status styling
		HealthHealthy:   pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		HealthBusy:      pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		HealthOffline:   pterm.NewStyle(pterm.FgGray, pterm.Bold),
		HealthUnhealthy: pterm.NewStyle(pterm.FgRed, pterm.Bold),
		HealthUnknown:   pterm.NewStyle(pterm.FgLightMagenta),

		// Colour palette
		Primary:   pterm.FgBlue,
		Secondary: pterm.FgCyan,
		Danger:    pterm.FgRed,
		Warning:   pterm.FgYellow,
		Good:      pterm.FgGreen,
	}
}

// Dark suits terminals with dark backgrounds
func Dark() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgLightGreen),
		Warn:  pterm.NewStyle(pterm.FgLightYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgLightRed, pterm.Bold),
		Fatal: pterm.NewStyle(pterm.FgWhite, pterm.BgRed, pterm.Bold),

		Success:   pterm.NewStyle(pterm.FgLightGreen, pterm.Bold),
		Highlight: pterm.NewStyle(pterm.FgLightCyan, pterm.Bold),
		Muted:     pterm.NewStyle(pterm.FgGray),
		Accent:    pterm.NewStyle(pterm.FgLightMagenta),

		Counts:      pterm.NewStyle(pterm.FgLightYellow),
		Worker:      pterm.NewStyle(pterm.FgLightCyan),
		HealthCheck: pterm.NewStyle(pterm.FgLightMagenta),
		Numbers:     pterm.NewStyle(pterm.FgLightYellow),

		HealthHealthy:   pterm.NewStyle(pterm.FgLightGreen, pterm.Bold),
		HealthBusy:      pterm.NewStyle(pterm.FgLightYellow, pterm.Bold),
		HealthOffline:   pterm.NewStyle(pterm.FgGray, pterm.Bold),
		HealthUnhealthy: pterm.NewStyle(pterm.FgLightRed, pterm.Bold),
		HealthUnknown:   pterm.NewStyle(pterm.FgLightMagenta),

		Primary:   pterm.FgLightBlue,
		Secondary: pterm.FgLightCyan,
		Danger:    pterm.FgLightRed,
		Warning:   pterm.FgLightYellow,
		Good:      pterm.FgLightGreen,
	}
}

// Light suits terminals with light backgrounds
func Light() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgBlue),
		Info:  pterm.NewStyle(pterm.FgBlack),
		Warn:  pterm.NewStyle(pterm.FgRed, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgRed, pterm.Bold),
		Fatal: pterm.NewStyle(pterm.FgWhite, pterm.BgRed, pterm.Bold),

		Success:   pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		Highlight: pterm.NewStyle(pterm.FgBlue, pterm.Bold),
		Muted:     pterm.NewStyle(pterm.FgGray),
		Accent:    pterm.NewStyle(pterm.FgMagenta),

		Counts:      pterm.NewStyle(pterm.FgYellow),
		Worker:      pterm.NewStyle(pterm.FgBlue),
		HealthCheck: pterm.NewStyle(pterm.FgMagenta),
		Numbers:     pterm.NewStyle(pterm.FgYellow),

		HealthHealthy:   pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		HealthBusy:      pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		HealthOffline:   pterm.NewStyle(pterm.FgGray, pterm.Bold),
		HealthUnhealthy: pterm.NewStyle(pterm.FgRed, pterm.Bold),
		HealthUnknown:   pterm.NewStyle(pterm.FgMagenta),

		Primary:   pterm.FgBlue,
		Secondary: pterm.FgCyan,
		Danger:    pterm.FgRed,
		Warning:   pterm.FgRed,
		Good:      pterm.FgGreen,
	}
}

// GetTheme maps a configured theme name to its palette, falling back to Default
func GetTheme(name string) *Theme {
	switch name {
	case "dark":
		return Dark()
	case "light":
		return Light()
	default:
		return Default()
	}
}

// StatusStyle picks the palette entry for a worker status string so health
// lines colour-code consistently everywhere
func (t *Theme) StatusStyle(status string) *pterm.Style {
	switch status {
	case "healthy":
		return t.HealthHealthy
	case "busy":
		return t.HealthBusy
	case "offline":
		return t.HealthOffline
	case "unhealthy":
		return t.HealthUnhealthy
	default:
		return t.HealthUnknown
	}
}

// ColourSplash styles the startup banner
func ColourSplash(message ...any) string {
	return pterm.LightGreen(message...)
}

// ColourVersion styles version numbers on the banner
func ColourVersion(message ...any) string {
	return pterm.LightYellow(message...)
}

// StyleUrl styles URLs and hyperlinks
func StyleUrl(message ...any) string {
	return pterm.LightBlue(message...)
}

// Hyperlink wraps text in an OSC 8 terminal hyperlink
func Hyperlink(uri string, text string) string {
	return "\x1b]8;;" + uri + "\x07" + text + "\x1b]8;;\x07" + "\x1b[0m"
}
