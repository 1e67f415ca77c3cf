// Package theme maps log semantics (levels, endpoints, health states) to
// pterm colours so every console line carries the same visual language.
package theme

import "github.com/pterm/pterm"

// Theme is the colour assignment one logger instance renders with.
type Theme struct {
	Name string

	Timestamp pterm.Color
	Message   pterm.Color

	LevelDebug pterm.Color
	LevelInfo  pterm.Color
	LevelWarn  pterm.Color
	LevelError pterm.Color

	Endpoint    pterm.Color
	HealthCheck pterm.Color
	Counts      pterm.Color
	Numbers     pterm.Color

	HealthHealthy   pterm.Color
	HealthDegraded  pterm.Color
	HealthUnhealthy pterm.Color
	HealthUnknown   pterm.Color

	AttrKey   pterm.Color
	AttrValue pterm.Color
}

var defaultTheme = Theme{
	Name:            "default",
	Timestamp:       pterm.FgGray,
	Message:         pterm.FgDefault,
	LevelDebug:      pterm.FgGray,
	LevelInfo:       pterm.FgCyan,
	LevelWarn:       pterm.FgYellow,
	LevelError:      pterm.FgRed,
	Endpoint:        pterm.FgLightBlue,
	HealthCheck:     pterm.FgLightMagenta,
	Counts:          pterm.FgLightWhite,
	Numbers:         pterm.FgLightWhite,
	HealthHealthy:   pterm.FgGreen,
	HealthDegraded:  pterm.FgYellow,
	HealthUnhealthy: pterm.FgRed,
	HealthUnknown:   pterm.FgGray,
	AttrKey:         pterm.FgGray,
	AttrValue:       pterm.FgDefault,
}

var emberTheme = Theme{
	Name:            "ember",
	Timestamp:       pterm.FgGray,
	Message:         pterm.FgDefault,
	LevelDebug:      pterm.FgGray,
	LevelInfo:       pterm.FgLightYellow,
	LevelWarn:       pterm.FgYellow,
	LevelError:      pterm.FgLightRed,
	Endpoint:        pterm.FgLightCyan,
	HealthCheck:     pterm.FgLightMagenta,
	Counts:          pterm.FgLightWhite,
	Numbers:         pterm.FgLightWhite,
	HealthHealthy:   pterm.FgLightGreen,
	HealthDegraded:  pterm.FgYellow,
	HealthUnhealthy: pterm.FgLightRed,
	HealthUnknown:   pterm.FgGray,
	AttrKey:         pterm.FgGray,
	AttrValue:       pterm.FgDefault,
}

// GetTheme resolves a theme by name, falling back to the default.
func GetTheme(name string) *Theme {
	switch name {
	case "ember":
		t := emberTheme
		return &t
	default:
		t := defaultTheme
		return &t
	}
}
