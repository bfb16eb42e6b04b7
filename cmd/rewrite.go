package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shadowbox.dev/pkg/shadowbox/internal/adapter"
	"shadowbox.dev/pkg/shadowbox/internal/domain"
	"shadowbox.dev/pkg/shadowbox/internal/instrument"
	m "shadowbox.dev/pkg/shadowbox/internal/model"
)

var (
	rewriteDiffFlag     string
	rewriteWatchFlag    bool
	rewriteParallelFlag int
)

const rewriteLongDescription = `Rewrite every class of the given platform versions (default: all versions
found under the artifacts directory) and write the results to the output
directory. Rewritten classes are cached by content hash and instrumentation
fingerprint; the first malformed class stops the run.

Versions are API levels with an optional codename, e.g. 30 or 33:T.`

// rewriteCmd represents the rewrite command.
var rewriteCmd = newRewriteCmd()

func newRewriteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewrite [versions...]",
		Short: "Rewrite platform classes for interception",
		Long:  rewriteLongDescription,
		RunE: func(cmd *cobra.Command, args []string) error {
			versions, err := parseVersions(args)
			if err != nil {
				return err
			}

			resolver, err := loadResolver()
			if err != nil {
				return err
			}

			env, err := newEnvironment(cmd.Context(), cmd, false)
			if err != nil {
				return err
			}
			defer env.Close()

			if rewriteDiffFlag != "" {
				return runDiff(cmd, env, versions, resolver.Instrumentation)
			}

			rewriteArgs := domain.RewriteArgs{
				Versions:        versions,
				Instrumentation: resolver.Instrumentation,
				Save:            true,
				Workers:         viper.GetInt(parallelConfigKey),
			}

			if !rewriteWatchFlag {
				_, err := env.workflow.Rewrite(cmd.Context(), rewriteArgs)

				return err
			}

			return runWatch(cmd, env, rewriteArgs)
		},
	}

	configureRewriteFlags(cmd)

	return cmd
}

func init() {
	rootCmd.AddCommand(rewriteCmd)
}

func configureRewriteFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&rewriteDiffFlag, "diff", "", "print the unified diff of one rewritten class instead of writing output")
	cmd.Flags().BoolVarP(&rewriteWatchFlag, "watch", "w", false, "keep rewriting classes as their files change")
	cmd.Flags().IntVarP(&rewriteParallelFlag, parallelFlagName, "p", viper.GetInt(parallelConfigKey), "number of classes rewritten in parallel")
	bindFlagToConfig(cmd.Flags().Lookup(parallelFlagName), parallelConfigKey)
	cmd.Flags().StringP(outputFlagName, "o", viper.GetString(outputFlagName), "output directory for rewritten classes")
	bindFlagToConfig(cmd.Flags().Lookup(outputFlagName), outputFlagName)
	cmd.MarkFlagsMutuallyExclusive("diff", "watch")
}

// runDiff shows the rewrite of the --diff class. Without a version argument
// the lowest version present is used.
func runDiff(cmd *cobra.Command, env *environment, versions []m.PlatformVersion, cfg *instrument.Configuration) error {
	if len(versions) > 1 {
		return fmt.Errorf("--diff takes at most one version, got %d", len(versions))
	}

	if len(versions) == 0 {
		var err error
		if versions, err = env.artifacts.Versions(); err != nil {
			return err
		}

		if len(versions) == 0 {
			return fmt.Errorf("no platform versions under %s", env.artifacts.Root())
		}
	}

	return env.workflow.Diff(cmd.Context(), domain.DiffArgs{
		Version:         versions[0],
		Class:           m.TypeName(rewriteDiffFlag),
		Instrumentation: cfg,
	})
}

func runWatch(cmd *cobra.Command, env *environment, args domain.RewriteArgs) error {
	versions := args.Versions
	if len(versions) == 0 {
		var err error
		if versions, err = env.artifacts.Versions(); err != nil {
			return err
		}
	}

	watcher, err := adapter.NewArtifactWatcher(env.artifacts, versions)
	if err != nil {
		return fmt.Errorf("failed to watch platform artifacts: %w", err)
	}
	defer watcher.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args.Versions = versions

	return env.workflow.Watch(ctx, domain.WatchArgs{RewriteArgs: args, Watcher: watcher})
}
