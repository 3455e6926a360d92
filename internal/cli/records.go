package cli

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/harun/voicedesk/pkg/records"
	"github.com/spf13/cobra"
)

var (
	recordsKind  string
	recordsLimit int
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List saved orders and leads",
	Long: `List the records the personas have saved, newest first.
Uses the SQLite index when records.sqlite_path is set and falls back to the
JSON files otherwise.`,
	RunE: runRecords,
}

func init() {
	recordsCmd.Flags().StringVar(&recordsKind, "kind", "", "record kind: coffee_order, shopping_order or lead (default all)")
	recordsCmd.Flags().IntVar(&recordsLimit, "limit", 20, "maximum records per kind")
	rootCmd.AddCommand(recordsCmd)
}

func runRecords(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	kinds := records.Kinds()
	if recordsKind != "" {
		valid := false
		for _, k := range kinds {
			if k == recordsKind {
				valid = true
			}
		}
		if !valid {
			return fmt.Errorf("unknown record kind: %s", recordsKind)
		}
		kinds = []string{recordsKind}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tCREATED\tPATH")

	if cfg.Records.SQLitePath != "" {
		ctx := commandContext(cmd)
		mirror, err := records.OpenSQLiteMirror(ctx, cfg.Records.SQLitePath)
		if err != nil {
			return err
		}
		defer mirror.Close()

		for _, kind := range kinds {
			entries, err := mirror.List(ctx, kind, recordsLimit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.Kind, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Path)
			}
		}
		return w.Flush()
	}

	store, err := records.NewFileStore(cfg.Records.Dir, nil)
	if err != nil {
		return err
	}
	for _, kind := range kinds {
		paths, err := store.List(kind)
		if err != nil {
			return err
		}
		if recordsLimit > 0 && len(paths) > recordsLimit {
			paths = paths[:recordsLimit]
		}
		for _, p := range paths {
			fmt.Fprintf(w, "%s\t-\t%s\n", kind, filepath.Base(p))
		}
	}
	return w.Flush()
}
