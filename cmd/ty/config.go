package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/mbellotti/testyard/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigSetTokenCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with all defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("%s already exists", configPath)
			}
			data, err := yaml.Marshal(config.Default())
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			if err := os.WriteFile(configPath, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", configPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to write")
	return cmd
}

// newConfigSetTokenCmd stores the GitHub export token. The token is read
// from the terminal without echo so it never lands in shell history.
func newConfigSetTokenCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "set-token",
		Short: "Store the GitHub export token in the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			var token string
			if term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Fprint(cmd.OutOrStdout(), "GitHub token: ")
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(cmd.OutOrStdout())
				if err != nil {
					return fmt.Errorf("read token: %w", err)
				}
				token = string(raw)
			} else {
				// Piped input (CI, tests).
				var line string
				if _, err := fmt.Fscanln(cmd.InOrStdin(), &line); err != nil {
					return fmt.Errorf("read token: %w", err)
				}
				token = line
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return fmt.Errorf("token is empty")
			}

			cfg.Export.Token = token
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			if err := os.WriteFile(configPath, data, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", configPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Testyard config file")
	return cmd
}
