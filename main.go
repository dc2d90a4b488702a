package main

import (
	"os"

	"github.com/conneroisu/bundlekit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
