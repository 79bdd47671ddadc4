package main

import (
	"os"

	"github.com/gridsingularity/d3a/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
