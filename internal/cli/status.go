package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/harun/voicedesk/internal/config"
	"github.com/harun/voicedesk/internal/daemon"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Show the current status of the voicedesk daemon service.
When the daemon is running the gateway health endpoint is queried for the
number of connected callers and live sessions.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type gatewayHealth struct {
	Status   string `json:"status"`
	Clients  int    `json:"clients"`
	Sessions int    `json:"sessions"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	pidFile := daemon.PIDFilePath(cfg.DataDir)

	if !daemon.IsRunning(pidFile) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return fmt.Errorf("invalid PID file: %w", err)
	}

	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)
	// The PID file is written at startup.
	if fileInfo, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(fileInfo.ModTime())))
	}

	health, err := fetchHealth(cfg.Gateway)
	if err != nil {
		fmt.Fprintf(out, "Gateway: unreachable (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "Gateway: %s\n", health.Status)
	fmt.Fprintf(out, "Callers: %d\n", health.Clients)
	fmt.Fprintf(out, "Sessions: %d\n", health.Sessions)
	return nil
}

func gatewayURL(gw config.GatewayConfig, path string) string {
	host := gw.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(gw.Port)) + path
}

func fetchHealth(gw config.GatewayConfig) (*gatewayHealth, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(gatewayURL(gw, "/healthz"))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	var health gatewayHealth
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("invalid health response: %w", err)
	}
	return &health, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
