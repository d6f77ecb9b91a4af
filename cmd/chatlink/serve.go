package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/keepmind9/chatlink/internal/core"
	"github.com/keepmind9/chatlink/internal/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serveConfig   string
	serveValidate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chatlink connector",
	Long:  "Start one long-poll worker per enabled platform and dispatch events to the configured handlers until SIGINT or SIGTERM",
	RunE: func(cmd *cobra.Command, args []string) error {
		configFile, err := resolveConfigPath(serveConfig)
		if err != nil {
			return err
		}
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if serveValidate {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Configuration is valid: %s\n", configFile)
			return nil
		}

		if err := logger.InitLogger(config.LoggerConfig()); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"config_file": configFile,
			"log_level":   config.Logging.Level,
			"log_file":    config.Logging.File,
			"transport":   config.HTTP.Transport,
			"whitelist":   config.Security.WhitelistEnabled,
		}).Info("logger-initialized")

		engine, err := newEngine(config)
		if err != nil {
			return err
		}
		if err := core.RegisterHandlers(engine.Dispatcher(), config); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(cmd.OutOrStdout(), "chatlink serving %v, press Ctrl+C to stop\n", engine.Platforms())
		if err := engine.Run(ctx); err != nil {
			return fmt.Errorf("engine error: %w", err)
		}
		logger.Info("chatlink-stopped")
		return nil
	},
}

// newEngine builds the transport, the engine and every enabled platform.
func newEngine(config *core.Config) (*core.Engine, error) {
	engine := core.NewEngine(config, core.NewTransport(config))
	if err := engine.RegisterConfiguredPlatforms(); err != nil {
		return nil, fmt.Errorf("failed to create platforms: %w", err)
	}
	return engine, nil
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfig, "config", "c", "", "Configuration file path")
	serveCmd.Flags().BoolVar(&serveValidate, "validate", false, "Validate configuration and exit")
}
