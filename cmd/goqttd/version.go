package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags; defaults to "dev".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the goqttd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("goqttd " + Version)
	},
}
