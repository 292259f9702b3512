package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"mediagate/internal/banner"
	"mediagate/internal/cli"
	"mediagate/internal/security"
)

func newServeCommand(bm buildMeta) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tools over the configured MCP transport and gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := security.RequireNonRoot(euidGetter); err != nil {
				return err
			}
			ctx, stop := notifyContext(cmd.Context())
			defer stop()

			c, err := loadContainer(ctx, cmd, bm, true)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := c.Close(closeCtx); err != nil {
					c.Logger().Warn("shutdown", "error", err)
				}
			}()

			if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
				banner.Startup(cmd.ErrOrStderr(), banner.Info{
					Version:   bm.Version,
					Transport: c.Config().MCP.Transport,
					Gateway:   c.Config().Gateway.Addr,
					Tools:     c.Registry().Len(),
				})
			}
			return c.Run(ctx)
		},
	}
	cmd.Flags().BoolP("quiet", "q", false, "skip the startup banner")
	return cmd
}

func newCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check config, API secret, cache and surfaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fix, _ := cmd.Flags().GetBool("fix")
			probe, _ := cmd.Flags().GetBool("probe")
			path := configPath(cmd)
			if path == "" && fix {
				path = cli.DefaultConfigFile
			}
			code := cli.RunCheck(cmd.Context(), cli.CheckOptions{ConfigPath: path, Fix: fix, Probe: probe}, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	cmd.Flags().Bool("fix", false, "write a default config if missing")
	cmd.Flags().Bool("probe", false, "mint a session against the configured API")
	return cmd
}
