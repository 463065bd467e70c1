package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or save the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return render(cfg)
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save [path]",
	Short: "Write the effective configuration to a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Save(args[0]); err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSaveCmd)
}
