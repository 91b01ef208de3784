package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exchanged",
		Short: "Decentralized exchange node",
		Long: `exchanged runs one peer of the decentralized exchange: a private
order book that matches locally and negotiates cross-peer fills with other
nodes over the shared directory.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().String("config", "", "path to config file (optional)")

	cmd.AddCommand(nodeCmd())
	cmd.AddCommand(directoryCmd())
	return cmd
}

// loadConfig binds every flag of the invoked command into viper and layers
// an optional config file plus EXCHANGED_* environment variables on top.
func loadConfig(cmd *cobra.Command) error {
	viper.SetEnvPrefix("exchanged")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}
