package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shadowbox.dev/pkg/shadowbox/internal/controller"
	"shadowbox.dev/pkg/shadowbox/internal/domain"
	"shadowbox.dev/pkg/shadowbox/internal/lifecycle"
	m "shadowbox.dev/pkg/shadowbox/internal/model"
)

var (
	inspectTUIFlag     bool
	inspectPackageFlag string
	inspectClassFlag   string
)

const inspectLongDescription = `Build the sandbox and the substitute map a test would run with on VERSION
and print how every intercepted platform method is routed: to a substitute,
to the real implementation, or to neither. Methods no route could be formed
for are listed with the reason.

--package and --class select the package and class level entries of the
resolver configuration, as if a test of that class was run.`

// inspectCmd represents the inspect command.
var inspectCmd = newInspectCmd()

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect VERSION",
		Short: "Show the dispatch table of a sandbox",
		Long:  inspectLongDescription,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := m.ParsePlatformVersion(args[0])
			if err != nil {
				return err
			}

			resolver, err := loadResolver()
			if err != nil {
				return err
			}

			interactive := inspectTUIFlag && controller.IsTTY(cmd.OutOrStdout())

			env, err := newEnvironment(cmd.Context(), cmd, interactive)
			if err != nil {
				return err
			}
			defer env.Close()

			_, err = env.workflow.Inspect(cmd.Context(), domain.InspectArgs{
				Version:  version,
				Resolver: resolver,
				Test: lifecycle.TestCase{
					Package: inspectPackageFlag,
					Class:   inspectClassFlag,
					Name:    "inspect",
				},
				Strict: viper.GetBool(strictConfigKey),
			})

			return err
		},
	}

	cmd.Flags().BoolVar(&inspectTUIFlag, "tui", false, "browse the table interactively when attached to a terminal")
	cmd.Flags().StringVar(&inspectPackageFlag, "package", "", "test package selecting package-level substitutes")
	cmd.Flags().StringVar(&inspectClassFlag, "class", "", "test class selecting class-level substitutes")
	cmd.Flags().Bool(strictFlagName, viper.GetBool(strictConfigKey), "fail on platform methods without a Go body")
	bindFlagToConfig(cmd.Flags().Lookup(strictFlagName), strictConfigKey)

	return cmd
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
