// Package cmd provides the root command and CLI setup for shadowbox.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"shadowbox.dev/pkg/shadowbox/internal/adapter"
	"shadowbox.dev/pkg/shadowbox/internal/classcache"
	"shadowbox.dev/pkg/shadowbox/internal/controller"
	"shadowbox.dev/pkg/shadowbox/internal/domain"
	"shadowbox.dev/pkg/shadowbox/internal/lifecycle"
	m "shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/shadow"
	"shadowbox.dev/pkg/shadowbox/internal/vm"
)

var goFileAdapter adapter.GoFileAdapter

// settings holds what a program embedding the CLI contributes: the
// substitute catalog and the Go bodies of platform methods.
var settings = options{bodies: map[int]vm.BodyTable{}}

// noCacheFlag disables the rewritten-class cache when set.
var noCacheFlag bool

var verboseFlag bool

func init() {
	goFileAdapter = adapter.NewLocalGoFileAdapter()
}

const rootLongDescription = `Shadowbox runs tests against a simulated platform: platform classes are
rewritten so every call can be routed to a substitute implementation, and
each test runs in a sandbox bound to the substitutes it asks for.

Platform classes live under the artifacts directory, one directory per API
level (e.g. platform/30/android.os.Clock.yaml).`

// Option customizes the CLI of a program embedding it.
type Option func(*options)

type options struct {
	catalog *shadow.Catalog
	bodies  map[int]vm.BodyTable
}

// WithCatalog makes the substitute types of catalog available to inspect.
func WithCatalog(catalog *shadow.Catalog) Option {
	return func(o *options) { o.catalog = catalog }
}

// WithBodies registers the Go bodies of the platform methods of one API level.
func WithBodies(api int, table vm.BodyTable) Option {
	return func(o *options) { o.bodies[api] = table }
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "shadowbox",
		Short:         "Platform substitution engine for sandboxed tests",
		Long:          rootLongDescription,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			configureLogger(viper.GetString(logFilenameKey), viper.GetBool(logVerboseKey))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	configureRootFlags(cmd)

	return cmd
}

func configureRootFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.StringP(artifactsFlagName, "a", viper.GetString(artifactsConfigKey), "platform artifacts directory")
	bindFlagToConfig(flags.Lookup(artifactsFlagName), artifactsConfigKey)

	flags.StringP(resolverFlagName, "r", viper.GetString(resolverConfigKey), "resolver configuration file")
	bindFlagToConfig(flags.Lookup(resolverFlagName), resolverConfigKey)

	flags.BoolVar(&noCacheFlag, noCacheFlagName, viper.GetBool(noCacheFlagName), "disable the rewritten-class cache")
	bindFlagToConfig(flags.Lookup(noCacheFlagName), noCacheFlagName)

	flags.BoolVarP(&verboseFlag, verboseFlagName, "v", viper.GetBool(logVerboseKey), "log at debug level")
	bindFlagToConfig(flags.Lookup(verboseFlagName), logVerboseKey)

	flags.String(logFileFlagName, viper.GetString(logFilenameKey), "log file")
	bindFlagToConfig(flags.Lookup(logFileFlagName), logFilenameKey)
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(opts ...Option) {
	for _, opt := range opts {
		opt(&settings)
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// environment is what one command invocation works with.
type environment struct {
	artifacts *adapter.LocalArtifactAdapter
	cache     classcache.Cache
	workflow  domain.Workflow
}

func (e *environment) Close() error {
	return e.cache.Close()
}

// newEnvironment wires the adapters and the workflow from configuration.
func newEnvironment(ctx context.Context, cmd *cobra.Command, interactive bool) (*environment, error) {
	artifacts := adapter.NewLocalArtifactAdapter(viper.GetString(artifactsConfigKey))
	for api, table := range settings.bodies {
		artifacts.RegisterBodies(api, table)
	}

	cache, err := classcache.New(ctx, cacheConfig())
	if err != nil {
		return nil, err
	}

	catalog := settings.catalog
	if catalog == nil {
		if catalog, err = shadow.NewCatalog(); err != nil {
			return nil, err
		}
	}

	ui := controller.NewUI(cmd, interactive)

	return &environment{
		artifacts: artifacts,
		cache:     cache,
		workflow: domain.NewWorkflow(
			artifacts,
			adapter.NewLocalRewriteStore(viper.GetString(outputFlagName)),
			goFileAdapter,
			cache,
			catalog,
			ui,
		),
	}, nil
}

// loadResolver reads the resolver configuration file.
func loadResolver() (*lifecycle.StaticResolver, error) {
	return adapter.LoadResolverConfig(viper.GetString(resolverConfigKey))
}

func parseVersions(args []string) ([]m.PlatformVersion, error) {
	versions := make([]m.PlatformVersion, 0, len(args))

	for _, arg := range args {
		v, err := m.ParsePlatformVersion(arg)
		if err != nil {
			return nil, err
		}

		versions = append(versions, v)
	}

	return versions, nil
}
