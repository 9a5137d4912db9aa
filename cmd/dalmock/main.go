package main

import (
	"os"

	"github.com/ismailtsdln/dalmock/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
