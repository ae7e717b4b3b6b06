// Command relayctl is an operator tool for the relay hub: tail relayed
// events, publish one by hand, or query a process's health endpoint.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	relayURL   string
	clientID   string
	timeout    time.Duration
	jsonOutput bool
)

func defaultRelayURL() string {
	if s := os.Getenv("RELAYCTL_URL"); s != "" {
		return s
	}
	return "ws://localhost:8080/relay"
}

var rootCmd = &cobra.Command{
	Use:          "relayctl <command>",
	Short:        "Operator CLI for the stream relay hub",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&relayURL, "url", defaultRelayURL(), "relay WebSocket URL (env RELAYCTL_URL)")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "relayctl", "client id announced to the hub")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "connect and request timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(emitCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
