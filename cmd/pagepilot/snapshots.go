package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/pagepilot/internal/store"
)

// SnapshotsCmd manages the stored snapshots without touching the browser.
func SnapshotsCmd() *cobra.Command {
	var (
		olderThan time.Duration
		deleteTab string
	)
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List, delete or prune stored snapshots",
		Long: `List the snapshots kept for later click/fill/hover commands.

  pagepilot snapshots
  pagepilot snapshots --delete <tab>
  pagepilot snapshots --older-than 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := AppConfig.Store.Path
			if path == "" {
				return errors.New("the snapshot store is disabled")
			}
			st, err := store.Open(path)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if deleteTab != "" {
				if err := st.Delete(ctx, deleteTab); err != nil {
					return err
				}
				fmt.Printf("Deleted snapshots of tab %s\n", deleteTab)
				return nil
			}
			if olderThan > 0 {
				n, err := st.Prune(ctx, time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Printf("Pruned %d snapshot(s)\n", n)
				return nil
			}

			entries, err := st.List(ctx)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Println("No stored snapshots.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TAB\tMODE\tTAKEN\tTITLE\tURL")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.TabID, e.Mode, e.CreatedAt.Format(time.DateTime), e.Title, e.URL)
			}
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "remove snapshots older than this")
	cmd.Flags().StringVar(&deleteTab, "delete", "", "remove the snapshots of this tab")
	return cmd
}
