// Package main is the single-binary entrypoint for the control plane.
package main

import "github.com/coderunner/controlplane/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
