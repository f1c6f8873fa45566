package main

import (
	"os"

	"github.com/psantana5/hostscan/cmd/hostscan/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
