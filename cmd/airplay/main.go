package main

import (
	"os"

	"github.com/psantana5/airplay-fetch/cmd/airplay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
