// ABOUTME: CLI command printing the gateway version.
// ABOUTME: Reports name, version, and protocol revision.
package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"pgmcp/internal/protocol"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		color.Cyan("%s %s", protocol.ServerName, protocol.ServerVersion)
		color.White("protocol revision %s", protocol.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
