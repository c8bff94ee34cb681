// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for Netvault.
//
// Usage:
//
//	go run . [flags]
//	./netvault [flags]
//
// This launches the Netvault CLI. See --help for options.
package main

import (
	"os"

	"github.com/rvail/netvault/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
