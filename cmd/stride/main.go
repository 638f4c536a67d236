package main

import (
	"os"

	"github.com/martingalian/stride/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
