package main

import (
	"os"

	"github.com/solatis/freshkeeper/cmd/freshkeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
