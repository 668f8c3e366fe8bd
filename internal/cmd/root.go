// Package cmd implements the dittomount command line.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "dittomount",
	Short: "DittoMount - disk image control plane",
	Long: `DittoMount accepts disk images over HTTP, stages them and promotes a
validated batch into the active set mounted on the next boot.

Create a configuration file:
  dittomount init

Start the control plane:
  dittomount serve
  dittomount serve --config ./config.yaml

Mark disk images as modified:
  dittomount journal record /1541/_active_mount/game.d64`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/dittomount/config.yaml)")
}
