package main

import (
	"github.com/fleetpower/dcmesh/internal/nodecli"
)

// Build information, injected at compile time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	nodecli.SetVersionInfo(version, commit, date)
	nodecli.Execute()
}
