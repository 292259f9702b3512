package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mediagate/internal/domain"
	"mediagate/internal/media"
	"mediagate/internal/registry"
)

func newToolsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the available tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Listing needs no credentials: handlers are never run.
			reg := registry.New(registry.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
			reg.Discover(media.NewCatalog(nil, "", 0).Entries())

			category, _ := cmd.Flags().GetString("category")
			defs := reg.Definitions()
			if category != "" {
				names := map[string]bool{}
				for _, n := range reg.ByCategory(category) {
					names[n] = true
				}
				filtered := defs[:0]
				for _, d := range defs {
					if names[d.Name] {
						filtered = append(filtered, d)
					}
				}
				defs = filtered
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"tools": defs})
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCATEGORY\tDESCRIPTION")
			for _, d := range defs {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.Category, d.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "print full definitions, input schemas included")
	cmd.Flags().String("category", "", "only tools in this category")
	return cmd
}

func newCallCommand(bm buildMeta) *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> [json-arguments|-]",
		Short: "Run one tool and print its result or error envelope as JSON",
		Long:  "Run one tool. Arguments are a JSON object given inline or, with \"-\", on stdin. An error envelope is printed to stdout and the exit code is 1.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := "{}"
			if len(args) == 2 {
				raw = args[1]
			}
			if raw == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				raw = string(data)
			}
			var arguments map[string]any
			if err := json.Unmarshal([]byte(raw), &arguments); err != nil {
				return fmt.Errorf("arguments must be a JSON object: %w", err)
			}

			c, err := loadContainer(cmd.Context(), cmd, bm, false)
			if err != nil {
				return err
			}
			defer c.Close(cmd.Context())

			result, env := c.Dispatcher().Execute(cmd.Context(), args[0], arguments)
			if env != nil {
				if err := writeJSON(cmd.OutOrStdout(), map[string]any{"error": env}); err != nil {
					return err
				}
				return exitCodeErr(1)
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newSessionCommand(bm buildMeta) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Mint a session and report its state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadContainer(cmd.Context(), cmd, bm, false)
			if err != nil {
				return err
			}
			defer c.Close(cmd.Context())

			if _, err := c.Sessions().Get(cmd.Context()); err != nil {
				return fmt.Errorf("session: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), struct {
				domain.SessionInfo
				Endpoint string `json:"endpoint"`
			}{c.Sessions().Info(), c.Config().API.URL})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readLine reads a single line, used for secrets typed or piped on stdin.
func readLine(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimRight(line, "\r"), nil
}
