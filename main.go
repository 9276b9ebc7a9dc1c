package main

import (
	"os"

	"github.com/mfallas/mpcdispatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
