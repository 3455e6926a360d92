package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/harun/voicedesk/pkg/persona"
	"github.com/spf13/cobra"
)

var personasJSON bool

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List the available personas",
	RunE:  runPersonas,
}

func init() {
	personasCmd.Flags().BoolVar(&personasJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(personasCmd)
}

func runPersonas(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	registry := persona.DefaultRegistry()
	if cfg.Content.PromptsFile != "" {
		overrides, err := persona.LoadPromptOverrides(cfg.Content.PromptsFile)
		if err != nil {
			return fmt.Errorf("failed to load prompt overrides: %w", err)
		}
		registry.SetOverrides(overrides)
	}
	infos := registry.List()

	out := cmd.OutOrStdout()
	if personasJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVOICE\tTOOLS\tDESCRIPTION")
	for _, info := range infos {
		tools := "-"
		if len(info.Tools) > 0 {
			tools = strings.Join(info.Tools, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", info.ID, info.Name, info.Voice, tools, info.Description)
	}
	return w.Flush()
}
