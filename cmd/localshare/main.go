package main

import (
	"os"

	"github.com/opd-ai/localshare/cmd/localshare/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
