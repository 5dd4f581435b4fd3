package main

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "goqttd",
	Short: "goqttd is a multi-protocol MQTT/CoAP/SN broker",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config YAML (defaults applied if omitted)")
	rootCmd.AddCommand(startCmd, versionCmd)
}
