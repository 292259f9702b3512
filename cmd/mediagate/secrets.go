package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mediagate/internal/cli"
	"mediagate/internal/config"
	"mediagate/internal/secrets"
)

func newSecretsCommand() *cobra.Command {
	secretsCmd := &cobra.Command{
		Use:   "secrets",
		Short: "Store or retrieve secrets (encrypted, not in config)",
		Long:  "Store or retrieve secrets in an encrypted local file. The API secret is read from key " + secrets.KeyAPISecret + " when api.secret is empty.",
	}
	setCmd := &cobra.Command{
		Use:   "set <key> [value]",
		Short: "Store a secret; the value is read from stdin when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runSecretsSet,
	}
	getCmd := &cobra.Command{Use: "get <key>", Short: "Print a secret", Args: cobra.ExactArgs(1), RunE: runSecretsGet}
	listCmd := &cobra.Command{Use: "list", Short: "List stored keys", Args: cobra.NoArgs, RunE: runSecretsList}
	deleteCmd := &cobra.Command{Use: "delete <key>", Short: "Remove a secret", Args: cobra.ExactArgs(1), RunE: runSecretsDelete}
	secretsCmd.AddCommand(setCmd, getCmd, listCmd, deleteCmd)
	return secretsCmd
}

func runSecretsSet(cmd *cobra.Command, args []string) error {
	s, err := openSecretStore()
	if err != nil {
		return err
	}
	value := ""
	if len(args) == 2 {
		value = args[1]
	} else if value, err = readLine(cmd.InOrStdin()); err != nil {
		return err
	}
	if value == "" {
		return errors.New("secret value must not be empty")
	}
	if err := s.Set(args[0], value); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func runSecretsGet(cmd *cobra.Command, args []string) error {
	s, err := openSecretStore()
	if err != nil {
		return err
	}
	value, err := s.Get(args[0])
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return fmt.Errorf("secret %q not found", args[0])
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runSecretsList(cmd *cobra.Command, args []string) error {
	s, err := openSecretStore()
	if err != nil {
		return err
	}
	keys, err := s.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintln(cmd.OutOrStdout(), k)
	}
	return nil
}

func runSecretsDelete(cmd *cobra.Command, args []string) error {
	s, err := openSecretStore()
	if err != nil {
		return err
	}
	return s.Delete(args[0])
}

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{Use: "config", Short: "Manage the config file"}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cmd)
			if path == "" {
				path = cli.DefaultConfigFile
			}
			force, _ := cmd.Flags().GetBool("force")
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(initCmd)
	return configCmd
}
