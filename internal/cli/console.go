package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/harun/voicedesk/internal/daemon"
	"github.com/harun/voicedesk/pkg/conversation"
	"github.com/spf13/cobra"
)

var (
	consolePersona string
	consoleSession string
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Talk to a persona from the terminal",
	Long: `Open a text-only call with one persona.
Each line you type is one turn. Type /quit or send EOF to hang up. The
transcript is saved like any gateway call and can be resumed with --session.`,
	RunE: runConsole,
}

func init() {
	consoleCmd.Flags().StringVarP(&consolePersona, "persona", "p", "barista", "persona to talk to")
	consoleCmd.Flags().StringVar(&consoleSession, "session", "", "resume an existing session key")
	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, false)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	return converse(commandContext(cmd), d.GetManager(), consolePersona, consoleSession, cmd.InOrStdin(), cmd.OutOrStdout())
}

// converse runs a text call until /quit or EOF.
func converse(ctx context.Context, manager *conversation.Manager, personaID, key string, in io.Reader, out io.Writer) error {
	sess, err := manager.Create(ctx, personaID, conversation.CreateOptions{Key: key, Room: "console"})
	if err != nil {
		return err
	}
	defer sess.Close(ctx)

	greeting, err := sess.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	name := sess.Persona().Name()
	fmt.Fprintf(out, "session %s\n", sess.Key())
	fmt.Fprintf(out, "%s: %s\n", name, greeting.Text())

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		reply, err := sess.HandleText(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "%s: %s\n", name, reply.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	fmt.Fprintf(out, "usage: %s\n", sess.Usage().Summary())
	return nil
}
