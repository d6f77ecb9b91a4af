package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatlink",
	Short: "chatlink is a connector that long-polls chat platforms and dispatches their events",
	Long: `chatlink is a lightweight connector that receives updates from chat
platforms (Telegram, VK, Discord) over long polling or the gateway, hands
every message and button press to configurable handlers, and sends
messages with attachments back through the same transport.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

// defaultConfigLocations are searched when no --config is given.
func defaultConfigLocations() []string {
	return []string{
		"config.yaml",
		"config.toml",
		filepath.Join(os.Getenv("HOME"), ".config/chatlink/config.yaml"),
		"/etc/chatlink/config.yaml",
	}
}

// resolveConfigPath returns path, or the first existing default location.
func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	for _, loc := range defaultConfigLocations() {
		if _, err := os.Stat(loc); err == nil {
			return loc, nil
		}
	}
	return "", fmt.Errorf("no configuration file found; specify one with --config")
}
