package main

import (
	"os"

	"github.com/elsewhere-cli/elsewhere/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
