package main

import (
	"os"

	"github.com/xraph/forwarder/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
