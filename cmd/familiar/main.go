package main

import (
	"os"

	"github.com/MEKXH/familiar/cmd/familiar/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
