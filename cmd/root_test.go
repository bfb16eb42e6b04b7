package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "shadowbox.dev/pkg/shadowbox/internal/model"
	"shadowbox.dev/pkg/shadowbox/internal/vm"
)

const (
	clockClass = `
name: android.os.Clock
methods:
  - {name: <init>}
  - {name: now, returns: long}
  - {name: format, params: [long], returns: java.lang.String}
`
	localeClass = `
name: java.util.Locale
methods:
  - {name: <init>}
  - {name: tag, returns: java.lang.String}
`
	resolverConfig = `
versions: ["30"]
instrumentation:
  packages: [android]
shadows:
  defaults:
    - {real: android.os.Clock, shadow: FakeClock}
`
)

// project is a temporary platform checkout with a resolver configuration.
type project struct {
	dir       string
	artifacts string
	resolver  string
	output    string
}

func newProject(t *testing.T) project {
	t.Helper()

	dir := t.TempDir()
	p := project{
		dir:       dir,
		artifacts: filepath.Join(dir, "platform"),
		resolver:  filepath.Join(dir, defaultResolverFile),
		output:    filepath.Join(dir, "out"),
	}

	for name, content := range map[string]string{"android.os.Clock": clockClass, "java.util.Locale": localeClass} {
		path := filepath.Join(p.artifacts, "30", name+".yaml")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	require.NoError(t, os.WriteFile(p.resolver, []byte(resolverConfig), 0o644))

	return p
}

// run executes the root command with the project's paths.
func (p project) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	cmd.AddCommand(newRewriteCmd(), newInspectCmd(), newGenerateCmd())

	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(append([]string{
		"--artifacts", p.artifacts,
		"--resolver", p.resolver,
		"--log-file", filepath.Join(p.dir, "shadowbox.log"),
		"--no-cache",
	}, args...))

	err := cmd.Execute()

	return out.String(), err
}

// withSettings applies opts for the duration of the test.
func withSettings(t *testing.T, opts ...Option) {
	t.Helper()

	saved := settings
	settings = options{bodies: map[int]vm.BodyTable{}}

	for _, opt := range opts {
		opt(&settings)
	}

	t.Cleanup(func() { settings = saved })
}

func TestParseVersions(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []m.PlatformVersion
		wantErr bool
	}{
		{name: "empty", args: []string{}, want: []m.PlatformVersion{}},
		{name: "single", args: []string{"30"}, want: []m.PlatformVersion{{API: 30}}},
		{
			name: "codename",
			args: []string{"30", "33:T"},
			want: []m.PlatformVersion{{API: 30}, {API: 33, Codename: "T"}},
		},
		{name: "invalid", args: []string{"R"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVersions(tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewRootCmd(t *testing.T) {
	cmd := newRootCmd()
	assert.Equal(t, "shadowbox", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.Equal(t, rootLongDescription, cmd.Long)

	for _, name := range []string{artifactsFlagName, resolverFlagName, noCacheFlagName, verboseFlagName, logFileFlagName} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestRootCmd_HelpOutput(t *testing.T) {
	cmd := newRootCmd()
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(&bytes.Buffer{})

	cmd.SetArgs([]string{})
	err := cmd.Execute()

	require.NoError(t, err)
	assert.Contains(t, output.String(), "Usage:")
	assert.Contains(t, output.String(), "one directory per API")
}

func TestInit(t *testing.T) {
	assert.NotNil(t, goFileAdapter)
	assert.NotNil(t, settings.bodies)

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"rewrite", "inspect", "generate", "init", "version"} {
		assert.True(t, names[name], name)
	}
}

func TestOptions(t *testing.T) {
	table := vm.BodyTable{}.Method("android.os.Clock", "now()", func(*vm.Frame) (any, error) { return int64(1), nil })

	withSettings(t, WithBodies(30, table))

	assert.Nil(t, settings.catalog)
	assert.Len(t, settings.bodies[30], 1)
}

func TestExecute(t *testing.T) {
	originalRootCmd := rootCmd
	defer func() { rootCmd = originalRootCmd }()

	withSettings(t)

	mockCmd := &cobra.Command{
		Use: "test",
		RunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
	}
	mockCmd.SetOut(&bytes.Buffer{})
	mockCmd.SetErr(&bytes.Buffer{})

	rootCmd = mockCmd

	Execute(WithBodies(33, vm.BodyTable{}))
	assert.Contains(t, settings.bodies, 33)
}

func TestExecute_WithError(t *testing.T) {
	originalRootCmd := rootCmd
	defer func() {
		rootCmd = originalRootCmd
	}()

	mockCmd := &cobra.Command{
		Use: "test",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("command failed")
		},
	}
	mockCmd.SetOut(&bytes.Buffer{})
	mockCmd.SetErr(&bytes.Buffer{})

	rootCmd = mockCmd

	// Execute would exit the process, so only the command itself is run.
	err := rootCmd.Execute()
	require.Error(t, err)
}

func TestExecute_ProcessLevel_Failure(t *testing.T) {
	if os.Getenv("TEST_EXECUTE_SUBPROCESS_FAIL") == "1" {
		originalRootCmd := rootCmd
		mockCmd := &cobra.Command{
			Use: "test",
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(os.Stderr, "error occurred")
				return fmt.Errorf("command failed")
			},
		}
		mockCmd.SetOut(os.Stdout)
		mockCmd.SetErr(os.Stderr)
		rootCmd = mockCmd
		defer func() { rootCmd = originalRootCmd }()

		Execute() // This should call os.Exit(1)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestExecute_ProcessLevel_Failure")
	cmd.Env = append(os.Environ(), "TEST_EXECUTE_SUBPROCESS_FAIL=1")
	output, err := cmd.CombinedOutput()

	require.Error(t, err)

	if exitErr, ok := err.(*exec.ExitError); ok {
		assert.Equal(t, 1, exitErr.ExitCode())
	} else {
		assert.Fail(t, "expected exec.ExitError", "got %T", err)
	}

	assert.Contains(t, string(output), "error occurred")
}
