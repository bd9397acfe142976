package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/teilomillet/relay/config"
)

const defaultConfigPath = "relay.yaml"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "Telegram webhook relay to a language model",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", defaultConfigPath, "Config file path. Without one, defaults and environment variables are used.")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig reads --config. A missing file is only an error when the flag
// was given explicitly; otherwise the defaults plus environment are used.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	explicit := cmd.Flags().Changed("config")

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			cfg, err := config.FromEnv()
			return cfg, "", err
		}
		return nil, path, fmt.Errorf("config file %s: %w", path, err)
	}

	cfg, err := config.LoadFile(path)
	return cfg, path, err
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, source, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			printSource(cmd.OutOrStdout(), source)
			return nil
		},
	}
}

func printSource(w io.Writer, source string) {
	if source == "" {
		source = "defaults and environment"
	}
	_, _ = fmt.Fprintf(w, "configuration OK (%s)\n", source)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
