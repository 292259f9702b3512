package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"mediagate/internal/app"
	"mediagate/internal/config"
	"mediagate/internal/secrets"
	"mediagate/internal/security"
	"mediagate/internal/signals"
)

// Build metadata, set via ldflags, e.g.:
//
//	go build -ldflags "-X main.version=1.2.0 -X main.commit=$(git rev-parse --short HEAD)" ./cmd/mediagate
var (
	version string
	commit  string
	date    string
)

// buildMeta holds version and build metadata.
type buildMeta struct {
	Version string
	Commit  string
	Date    string
	GoOS    string
	GoArch  string
}

func newBuildMeta(version, goos, goarch string) buildMeta {
	if version == "" {
		version = "dev"
	}
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return buildMeta{Version: version, Commit: commit, Date: date, GoOS: goos, GoArch: goarch}
}

func (m buildMeta) String() string {
	s := fmt.Sprintf("mediagate %s %s/%s", m.Version, m.GoOS, m.GoArch)
	if m.Commit != "" {
		s += " commit " + m.Commit
	}
	if m.Date != "" {
		s += " built " + m.Date
	}
	return s
}

// Function variables for dependency injection in tests.
var (
	loadConfig      = config.Load
	newContainer    = app.New
	openSecretStore = func() (secrets.Store, error) { return secrets.Open("") }
	notifyContext   = signals.NotifyContext
	euidGetter      = security.EffectiveUIDGetter()
)

func newRootCommand(bm buildMeta) *cobra.Command {
	root := &cobra.Command{
		Use:           "mediagate",
		Short:         "Media platform tools over MCP and WebSocket",
		Long:          "mediagate exposes a media platform API as schema-validated tools for MCP hosts and WebSocket clients.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), bm.String())
				return nil
			}
			return cmd.Help()
		},
	}
	root.Flags().BoolP("version", "V", false, "print version and build metadata")
	root.PersistentFlags().StringP("config", "c", "", "config file (default $"+config.EnvConfigPath+")")

	root.AddCommand(
		newServeCommand(bm),
		newToolsCommand(),
		newCallCommand(bm),
		newSessionCommand(bm),
		newCheckCommand(),
		newSecretsCommand(),
		newConfigCommand(),
	)
	return root
}

// configPath resolves --config, then MEDIAGATE_CONFIG.
func configPath(cmd *cobra.Command) string {
	flag, _ := cmd.Flags().GetString("config")
	return config.ResolvePath(flag)
}

// loadContainer loads the config and wires a container whose logs go to
// stderr.
func loadContainer(ctx context.Context, cmd *cobra.Command, bm buildMeta, watch bool) (*app.Container, error) {
	path := configPath(cmd)
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	p := app.Params{Config: cfg, Version: bm.Version, LogOutput: cmd.ErrOrStderr()}
	if watch {
		p.ConfigPath = path
	}
	return newContainer(ctx, p)
}

// exitCodeErr carries an exit code for the process. When returned from a command, runApp exits with that code.
type exitCodeErr int

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit %d", int(e)) }
func (e exitCodeErr) ExitCode() int { return int(e) }

// runApp runs the root command with the given args and returns the exit code (0, 1, or 2).
func runApp(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(newBuildMeta(version, "", ""))
	root.SetArgs(args[1:])
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, security.ErrRunningAsRoot) {
			fmt.Fprintln(stderr, err)
			return 2
		}
		var ec interface{ ExitCode() int }
		if errors.As(err, &ec) {
			return ec.ExitCode()
		}
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}
