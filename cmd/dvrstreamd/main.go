// Package main is the entry point for the dvrstreamd application.
package main

import (
	"os"

	"github.com/jmylchreest/dvrstreamd/cmd/dvrstreamd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
