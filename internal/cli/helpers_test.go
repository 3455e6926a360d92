package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/voicedesk/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// writeTestConfig saves a config rooted in a temp dir and returns its path.
func writeTestConfig(t *testing.T, mutate func(cfg *config.Config)) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Logging.Console = false
	cfg.Content.Watch = false
	cfg.Gateway.Port = 0
	cfg.AI.Profiles = []config.AIProfile{{ID: "openai", Provider: "openai", APIKey: "sk-test-key", Priority: 1}}
	if mutate != nil {
		mutate(cfg)
	}

	path := filepath.Join(dir, "voicedesk.json")
	require.NoError(t, config.NewLoader(path).Save(cfg))

	loaded, err := config.NewLoader(path).Load()
	require.NoError(t, err)
	return path, loaded
}

// executeCommand runs the root command with args and returns its stdout.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	t.Cleanup(func() {
		cmd.SetArgs(nil)
		cmd.SetIn(nil)
		resetHelpFlags(cmd)
	})

	err := cmd.Execute()
	return out.String(), err
}

// resetHelpFlags clears --help on cmd and its children. Cobra keeps parsed
// flag values on the shared command tree between Executes.
func resetHelpFlags(cmd *cobra.Command) {
	if f := cmd.Flags().Lookup("help"); f != nil {
		_ = f.Value.Set("false")
		f.Changed = false
	}
	for _, child := range cmd.Commands() {
		resetHelpFlags(child)
	}
}

func hasCommand(name string) bool {
	for _, c := range GetRootCmd().Commands() {
		if c.Name() == name {
			return true
		}
	}
	return false
}
