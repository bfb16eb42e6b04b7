package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shadowbox.dev/pkg/shadowbox/internal/adapter"
)

var initPackagesFlag []string

const initLongDescription = `Create a shadowbox.yaml in the current working directory populated with the
current CLI defaults so it can be edited manually.

The resolver file it points to is seeded as well unless it already exists:
it lists the platform versions found under the artifacts directory, the
instrumented packages (--instrument) and empty substitute entries.`

// initCmd represents the init command.
var initCmd = newInitCmd()

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate shadowbox.yaml and a starter resolver file",
		Long:  initLongDescription,
		RunE: func(cmd *cobra.Command, _ []string) error {
			targetPath := filepath.Join(configFolderPath, configFileName)

			err := viper.SafeWriteConfigAs(targetPath)
			if err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", targetPath)

			return seedResolver(cmd, viper.GetString(resolverConfigKey))
		},
	}

	cmd.Flags().StringSliceVar(&initPackagesFlag, "instrument", []string{"android"}, "packages the seeded resolver instruments")

	return cmd
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// seedResolver writes a starter resolver configuration to path. An existing
// file is kept.
func seedResolver(cmd *cobra.Command, path string) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Kept existing %s\n", path)

		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to check resolver file: %w", err)
	}

	cfg := adapter.ResolverConfig{
		Instrumentation: adapter.InstrumentationConfig{Packages: initPackagesFlag},
	}

	// Missing artifacts leave the version list empty.
	versions, _ := adapter.NewLocalArtifactAdapter(viper.GetString(artifactsConfigKey)).Versions()
	for _, v := range versions {
		cfg.Versions = append(cfg.Versions, strconv.Itoa(v.API))
	}

	if err := adapter.WriteResolverConfig(path, cfg); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s with %d platform versions\n", path, len(cfg.Versions))

	return nil
}
