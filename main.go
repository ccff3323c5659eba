package main

import (
	"fmt"
	"os"

	"github.com/tphakala/birdnet-hybrid/cmd"
	"github.com/tphakala/birdnet-hybrid/internal/buildinfo"
	"github.com/tphakala/birdnet-hybrid/internal/conf"
)

// buildDate and version are set at build time with -ldflags "-X main.version=..."
var (
	buildDate string
	version   string
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	// HYBRID_CONFIG points at an explicit config file, otherwise the default
	// config directories are searched.
	settings, err := conf.Load(os.Getenv("HYBRID_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		return 1
	}

	info := buildinfo.New(version, buildDate)
	rootCmd := cmd.RootCommand(settings, info)
	defer cmd.Shutdown()

	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}
