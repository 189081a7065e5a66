package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thesyncim/streamdec/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or write the effective settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged settings as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeYAML(cmd.OutOrStdout(), cfg)
	},
}

var configWriteCmd = &cobra.Command{
	Use:   "write [PATH]",
	Short: "Write the merged settings to a file",
	Long: `Write the merged settings to PATH (default property.ini). The format
follows the extension: YAML for .yaml and .yml, key=value lines otherwise.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultFile
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.Write(cfg, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configWriteCmd)
}
