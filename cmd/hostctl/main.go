package main

import (
	"github.com/fleetpower/dcmesh/internal/hostcli"
)

// Build information, injected at compile time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	hostcli.SetVersionInfo(version, commit, date)
	hostcli.Execute()
}
