package cli

import (
	"fmt"
	"os"

	"github.com/harun/voicedesk/internal/daemon"
	"github.com/harun/voicedesk/pkg/voice"
	"github.com/spf13/cobra"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file.wav>",
	Short: "Transcribe a WAV file with the configured STT provider",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscribe,
}

func init() {
	rootCmd.AddCommand(transcribeCmd)
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	stt, _ := daemon.NewSpeech(cfg.Speech)
	if stt == nil {
		return fmt.Errorf("%w: set speech.stt.api_key or DEEPGRAM_API_KEY", voice.ErrNotConfigured)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read audio: %w", err)
	}
	// Decode first so a bad file fails here and not at the provider.
	if _, _, err := voice.DecodeWAV(data); err != nil {
		return err
	}

	transcript, err := stt.Transcribe(commandContext(cmd), data)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, transcript.Text)
	fmt.Fprintf(out, "confidence=%.2f duration=%.2fs\n", transcript.Confidence, transcript.Duration)
	return nil
}
