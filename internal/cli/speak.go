package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/harun/voicedesk/internal/daemon"
	"github.com/harun/voicedesk/pkg/voice"
	"github.com/spf13/cobra"
)

var (
	speakVoice string
	speakOut   string
)

var speakCmd = &cobra.Command{
	Use:   "speak <text>",
	Short: "Synthesize text to a WAV file with the configured TTS provider",
	Long: `Synthesize text the way a call does: the text is split into sentence
chunks, each chunk is synthesized, and the audio is joined into one WAV file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSpeak,
}

func init() {
	speakCmd.Flags().StringVar(&speakVoice, "voice", "", "voice id (default from config)")
	speakCmd.Flags().StringVarP(&speakOut, "out", "o", "speech.wav", "output WAV file")
	rootCmd.AddCommand(speakCmd)
}

func runSpeak(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	_, tts := daemon.NewSpeech(cfg.Speech)
	if tts == nil {
		return fmt.Errorf("%w: set speech.tts.api_key or MURF_API_KEY", voice.ErrNotConfigured)
	}

	tokenizer := voice.SentenceTokenizer{MinSentenceLen: cfg.Speech.TTS.MinSentenceLen}
	chunks := tokenizer.Split(strings.Join(args, " "))
	if len(chunks) == 0 {
		return fmt.Errorf("nothing to say")
	}

	ctx := commandContext(cmd)
	var samples []int16
	sampleRate := 0
	for _, chunk := range chunks {
		speech, err := tts.Synthesize(ctx, chunk, speakVoice)
		if err != nil {
			return err
		}
		pcm, rate, err := voice.DecodeWAV(speech.WAV)
		if err != nil {
			return err
		}
		if sampleRate == 0 {
			sampleRate = rate
		} else if rate != sampleRate {
			return fmt.Errorf("chunk sample rate %d does not match %d", rate, sampleRate)
		}
		samples = append(samples, pcm...)
	}

	wav, err := voice.EncodeWAV(samples, sampleRate)
	if err != nil {
		return err
	}
	if err := os.WriteFile(speakOut, wav, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", speakOut, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d chunks, %.2fs)\n", speakOut, len(chunks), float64(len(samples))/float64(sampleRate))
	return nil
}
