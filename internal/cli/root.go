package cli

import (
	"github.com/harun/voicedesk/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "voicedesk",
	Short: "voicedesk - persona driven voice agents",
	Long: `voicedesk runs voice agents that each play one persona: a barista, a
sales rep, a tutor, a fraud analyst, a grocery assistant and a game master.
Calls arrive over a websocket gateway; speech goes through Deepgram and Murf
and replies come from Gemini, OpenAI or Anthropic.`,
	Version:       daemon.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.voicedesk/voicedesk.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return daemon.Version
}
