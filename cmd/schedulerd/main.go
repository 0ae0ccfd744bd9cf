package main

import (
	"os"

	"github.com/staybook/schedulerd/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
