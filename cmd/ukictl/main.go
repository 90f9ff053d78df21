package main

import (
	"os"
)

// main is the entry point for the gateway CLI.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
