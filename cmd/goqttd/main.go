// Command goqttd is the broker daemon: it loads configuration, wires
// the broker with its transports, bridges, and cluster, and runs until
// a shutdown signal arrives.
//
// Grounded on cmd/goqtt/main.go's Config/gracefulShutdown shape,
// generalized to cobra subcommands per the module layout.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
