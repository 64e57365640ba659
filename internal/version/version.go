// Package version carries build metadata injected by the linker.
package version

// Populated via -ldflags at build time; see magefile.go.
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)
