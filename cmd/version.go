package cmd

import (
	"runtime/debug"

	"github.com/spf13/cobra"

	"shadowbox.dev/pkg/shadowbox/internal/facade"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version information",
		Long: `Displays the build version, the Go version used to build this tool and
the substitute types compiled into it.`,
		Run: func(cmd *cobra.Command, _ []string) {
			version, goVersion := "unknown", "unknown"
			if info, ok := debug.ReadBuildInfo(); ok {
				if info.Main.Version != "" {
					version = info.Main.Version
				}

				goVersion = info.GoVersion
			}

			substitutes := 0
			if settings.catalog != nil {
				substitutes = len(settings.catalog.Names())
			}

			cmd.Println("shadowbox version\t", version)
			cmd.Println("go version\t\t", goVersion)
			cmd.Println("facade runtime\t\t", facade.RuntimeImport)
			cmd.Println("substitute types\t", substitutes)
		},
	}
}

// versionCmd represents the version command.
var versionCmd = newVersionCmd()

func init() {
	rootCmd.AddCommand(versionCmd)
}
