package cli

import (
	"fmt"

	"github.com/harun/voicedesk/internal/daemon"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the voicedesk daemon service",
	Long: `Start the voicedesk daemon in the foreground.
The gateway accepts calls until SIGINT or SIGTERM, then drains in-flight turns
and shuts down.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if daemon.IsRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}

	log, err := newLogger(cfg, true)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		_ = d.Close()
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "voicedesk listening on %s\n", d.GetGatewayServer().Addr())
	d.Wait(commandContext(cmd))
	return nil
}
