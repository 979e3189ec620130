package main

import (
	"os"

	"github.com/gridsteer/kecc/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
