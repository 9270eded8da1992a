package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"devlaunch/internal/cli/output"
	"devlaunch/internal/config"
	"devlaunch/internal/logs"
	"devlaunch/internal/storage"
)

// loadConfig loads the configuration and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, output.NewStructuredError(output.ErrCodeConfigInvalid, err.Error()).
			WithGuidance("Fix the configuration file or remove it to use the built-in profiles").
			WithRecoveryCommand("devlaunch config show")
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
		}
	}
	return cfg, nil
}

// logConfig returns the file logging settings with --log-dir applied.
func logConfig(cfg *config.Config) *config.LogConfig {
	lc := config.DefaultLogConfig()
	if cfg.Logging != nil {
		copied := *cfg.Logging
		lc = &copied
	}
	if logDir != "" {
		lc.LogDir = logDir
	}
	return lc
}

// setupLogger creates the console logger for a command. Launching commands
// default to info, the rest to warn; --log-level and the config file win.
func setupLogger(cfg *config.Config, launchCommand bool) (*zap.Logger, *logs.SecretSanitizer, error) {
	level := logLevel
	toFile := logToFile
	if cfg.Logging != nil {
		if level == "" {
			level = cfg.Logging.Level
		}
		toFile = toFile || cfg.Logging.EnableFile
	}
	logger, sanitizer, err := logs.SetupCommandLogger(launchCommand, level, toFile, logConfig(cfg).LogDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	return logger, sanitizer, nil
}

// openHistory opens the run history in the data directory.
func openHistory(cfg *config.Config, logger *zap.Logger) (*storage.Manager, error) {
	history, err := storage.NewManager(cfg.DataDir, logger.Sugar())
	if err != nil {
		return nil, output.NewStructuredError(output.ErrCodeHistoryUnavailable, err.Error()).
			WithGuidance("Another devlaunch may be holding the history database; retry once it exits").
			WithContext("data_dir", cfg.DataDir)
	}
	return history, nil
}

// newFormatter returns the formatter selected by --output or DEVLAUNCH_OUTPUT.
func newFormatter() (output.OutputFormatter, error) {
	return output.NewFormatter(output.ResolveFormat(outputFormat))
}

// printResult formats data on stdout.
func printResult(data any) error {
	formatter, err := newFormatter()
	if err != nil {
		return err
	}
	text, err := formatter.Format(data)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Print(text)
	if len(text) > 0 && text[len(text)-1] != '\n' {
		fmt.Println()
	}
	return nil
}
