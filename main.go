package main

import (
	"os"

	"github.com/northstar-wraith/wraith/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
