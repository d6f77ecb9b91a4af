package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/keepmind9/chatlink/internal/bot"
	"github.com/keepmind9/chatlink/internal/core"
	"github.com/spf13/cobra"
)

var (
	validateConfigPath string
	validateShow       bool
	validateJSON       bool
)

// errInvalid makes the command exit 1 after the result has been printed.
var errInvalid = errors.New("configuration is invalid")

// ValidationResult represents the validation result
type ValidationResult struct {
	Valid     bool     `json:"valid"`
	Config    string   `json:"config"`
	Bots      []string `json:"bots"`
	Transport string   `json:"transport,omitempty"`
	Handlers  []string `json:"handlers,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate chatlink configuration file",
	Long: `Validate the chatlink configuration file without starting the service.

This command checks:
  - YAML or TOML syntax
  - Environment variable expansion
  - Bot credentials
  - Transport and long poll settings
  - Handler names

Exit codes:
  0 - Configuration is valid
  1 - Configuration has errors`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		configFile, err := resolveConfigPath(validateConfigPath)
		if err != nil {
			outputValidationResult(out, ValidationResult{Errors: []string{err.Error()}}, validateJSON)
			return errInvalid
		}

		cfg, err := core.LoadConfig(configFile)
		if err != nil {
			outputValidationResult(out, ValidationResult{Config: configFile, Errors: []string{err.Error()}}, validateJSON)
			return errInvalid
		}

		result := ValidationResult{
			Valid:     true,
			Config:    configFile,
			Bots:      cfg.EnabledBots(),
			Transport: cfg.HTTP.Transport,
			Handlers:  cfg.Handlers,
			Warnings:  validateConfigDetails(cfg),
		}

		if validateShow && !validateJSON {
			fmt.Fprintf(out, "✓ Configuration loaded: %s\n\n", configFile)
			fmt.Fprintf(out, "Bots (%d):\n", len(cfg.Bots))
			for _, name := range []string{bot.PlatformTelegram, bot.PlatformVK, bot.PlatformDiscord} {
				b, ok := cfg.Bots[name]
				if !ok {
					continue
				}
				status := "disabled"
				if b.Enabled {
					status = "enabled"
				}
				fmt.Fprintf(out, "  - %s: %s\n", name, status)
			}
			fmt.Fprintf(out, "\nTransport: %s (pool size %d, request timeout %s)\n",
				cfg.HTTP.Transport, cfg.HTTP.PoolSize, cfg.HTTP.RequestTimeout)
			fmt.Fprintf(out, "Long poll: min %s, max %s, factor %g\n\n",
				cfg.LongPoll.MinDelay, cfg.LongPoll.MaxDelay, cfg.LongPoll.Factor)
		}

		outputValidationResult(out, result, validateJSON)
		return nil
	},
}

func outputValidationResult(out io.Writer, result ValidationResult, jsonFormat bool) {
	if jsonFormat {
		output, err := json.Marshal(result)
		if err != nil {
			fmt.Fprintf(out, "{\"error\": \"failed to marshal json: %v\"}\n", err)
			return
		}
		fmt.Fprintln(out, string(output))
		return
	}

	if result.Valid {
		fmt.Fprintln(out, "✓ Configuration is valid")
		fmt.Fprintf(out, "  - Config: %s\n", result.Config)
		fmt.Fprintf(out, "  - Bots enabled: %v\n", result.Bots)
		fmt.Fprintf(out, "  - Transport: %s\n", result.Transport)
		fmt.Fprintf(out, "  - Handlers: %v\n", result.Handlers)
		if len(result.Warnings) > 0 {
			fmt.Fprintln(out, "\n⚠️  Warnings:")
			for _, warning := range result.Warnings {
				fmt.Fprintf(out, "  - %s\n", warning)
			}
		}
		return
	}

	fmt.Fprintln(out, "❌ Configuration validation failed:")
	for _, errMsg := range result.Errors {
		fmt.Fprintf(out, "  - %s\n", errMsg)
	}
}

func validateConfigDetails(cfg *core.Config) []string {
	var warnings []string

	if !cfg.Security.WhitelistEnabled {
		warnings = append(warnings, "Whitelist is disabled - this is a security risk")
	}

	for _, name := range cfg.EnabledBots() {
		b := cfg.Bots[name]
		if name == bot.PlatformVK && b.GroupID == 0 {
			warnings = append(warnings, "VK group_id is not set; it will be resolved from the token at startup")
		}
		if name == bot.PlatformDiscord && b.ChannelID == "" {
			warnings = append(warnings, "Discord channel_id is not set; sends must name a channel")
		}
		if cfg.Security.WhitelistEnabled {
			if _, ok := cfg.Security.AllowedUsers[name]; !ok {
				warnings = append(warnings, fmt.Sprintf("Bot '%s' has no allowed users; all its events will be dropped", name))
			}
		}
	}

	return warnings
}

func init() {
	validateCmd.Flags().StringVarP(&validateConfigPath, "config", "c", "", "Configuration file path")
	validateCmd.Flags().BoolVar(&validateShow, "show", false, "Show the loaded configuration")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output in JSON format")
}
