package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mindfort/sovereign/src/config"
	"github.com/mindfort/sovereign/src/version"
)

var (
	_config = config.NewDefaultConfig()
)

// RootCmd is the root command for sovereign
var RootCmd = &cobra.Command{
	Use:              "sovereign",
	Short:            "sovereign memory persistence engine",
	TraverseChildren: true,
}

// VersionCmd displays the version of sovereign being used
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}
