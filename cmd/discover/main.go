// Package main is the discover client CLI. Every command drives the same
// session engine a Discover screen uses, against a remote discoverd.
package main

import (
	"fmt"
	"os"

	"discover-engine/internal/config"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	config.LoadEnvFile(".env")

	app := newCLIApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
