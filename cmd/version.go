package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/northstar-wraith/wraith/system"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the current executable version and exits.",
	Run: func(*cobra.Command, []string) {
		fmt.Printf("wraith v%s (%s %s/%s)\n", system.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}
