package cmd

import (
	"fmt"
	"go/token"
	"path/filepath"

	"github.com/spf13/cobra"

	"shadowbox.dev/pkg/shadowbox/internal/domain"
	m "shadowbox.dev/pkg/shadowbox/internal/model"
)

var (
	generateOutFlag      string
	generatePackageFlag  string
	generateIncludeFlags []string
)

// generatedFileName is the file written below --out.
const generatedFileName = "facades_gen.go"

// generateCmd represents the generate command.
var generateCmd = newGenerateCmd()

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate VERSION",
		Short: "Generate typed Go facades for platform classes",
		Long: `Generate one Go file with a typed facade per platform class of VERSION.
Facades construct platform objects and call their methods through the
sandbox of the running test, so test code reads like calls on Go types.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := m.ParsePlatformVersion(args[0])
			if err != nil {
				return err
			}

			pkg := generatePackageFlag
			if pkg == "" {
				pkg = filepath.Base(generateOutFlag)
			}

			if !token.IsIdentifier(pkg) {
				return fmt.Errorf("invalid package name %q, set --package", pkg)
			}

			env, err := newEnvironment(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			defer env.Close()

			return env.workflow.Generate(cmd.Context(), domain.GenerateArgs{
				Version:  version,
				Packages: generateIncludeFlags,
				Package:  pkg,
				Output:   filepath.Join(generateOutFlag, generatedFileName),
			})
		},
	}

	cmd.Flags().StringVar(&generateOutFlag, "out", "platform", "directory of the generated package")
	cmd.Flags().StringVar(&generatePackageFlag, "package", "", "Go package name (default: base name of --out)")
	cmd.Flags().StringArrayVar(&generateIncludeFlags, "include", nil, "only generate facades for classes in this package (can be repeated)")

	return cmd
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
