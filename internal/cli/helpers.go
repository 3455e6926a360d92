package cli

import (
	"context"
	"fmt"

	"github.com/harun/voicedesk/internal/config"
	"github.com/harun/voicedesk/internal/logger"
	"github.com/spf13/cobra"
)

// loadConfig reads the config file and applies an explicit --log-level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger. One-shot commands pass console=false
// so logs go to the log file and stdout stays readable.
func newLogger(cfg *config.Config, console bool) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   console && cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
