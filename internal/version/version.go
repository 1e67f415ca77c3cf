// Package version carries the build identity stamped in at link time.
package version

import (
	"fmt"
	"log"
	"runtime"
	"strings"

	"github.com/pterm/pterm"
)

var (
	Name        = "emberd"
	Description = "event-driven HTTP reverse proxy"
	Version     = "v0.1.0"
	Commit      = "none"
	Date        = "unknown"
)

const HomeURI = "https://github.com/emberproxy/ember"

// PrintVersionInfo renders -v (one line) or -V (build info) output.
func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	var b strings.Builder

	banner := pterm.Style{pterm.FgLightYellow}
	b.WriteString(banner.Sprintf("%s %s", Name, Version))
	b.WriteString(fmt.Sprintf(" — %s\n", Description))

	if extendedInfo {
		b.WriteString(fmt.Sprintf(" commit: %s\n", Commit))
		b.WriteString(fmt.Sprintf("  built: %s\n", Date))
		b.WriteString(fmt.Sprintf("     go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH))
		b.WriteString(fmt.Sprintf("   home: %s", HomeURI))
	}

	vlog.Println(strings.TrimRight(b.String(), "\n"))
}
