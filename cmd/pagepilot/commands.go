package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/pagepilot/internal/browser"
	"github.com/neboloop/pagepilot/internal/search"
)

// TabsCmd lists automatable tabs.
func TabsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tabs",
		Short: "List browser tabs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			rt, err := openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()
			if err := rt.waitForExtension(ctx); err != nil {
				return err
			}

			tabs, err := rt.engine.Tabs(ctx)
			if err != nil {
				return browser.WrapError(err, "list tabs")
			}
			if jsonOut {
				return printJSON(tabs)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tTITLE\tURL")
			for _, t := range tabs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Type, t.Title, t.URL)
			}
			return w.Flush()
		},
	}
}

// SnapshotCmd captures and stores a snapshot.
func SnapshotCmd() *cobra.Command {
	var maxChars int
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture the accessibility snapshot of a tab",
		Long: `Capture the accessibility snapshot of a tab and print it. Every actionable line carries
uid=<id>; later click/fill/hover/value commands take that id. The snapshot is stored so
those commands can run as separate processes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app, tab browser.TabID) error {
				snap, err := rt.engine.Snapshot(ctx, tab, mode)
				if err != nil {
					return browser.WrapError(err, "snapshot")
				}
				rt.save(ctx, snap)
				if jsonOut {
					return printJSON(snap)
				}
				fmt.Printf("Page: %s\nURL: %s\nTab: %s\n\n", snap.Title, snap.URL, snap.TabID)
				fmt.Print(browser.RenderSnapshot(snap, browser.SnapshotOptions{MaxChars: maxChars}))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxChars, "max-chars", 0, "truncate the snapshot text")
	return cmd
}

// SearchCmd searches the stored snapshot.
func SearchCmd() *cobra.Command {
	var (
		contextLevels int
		caseSensitive bool
		noGlob        bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the last snapshot of a tab",
		Long: `Search the last snapshot of a tab. Terms are separated by "|" and combined with OR;
terms containing * ? [ ] { } are matched as globs.

  pagepilot search "pay|checkout"
  pagepilot search "*card*" --context 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app, tab browser.TabID) error {
				snapMode, err := rt.restore(ctx, tab)
				if err != nil {
					return err
				}
				opts := search.Options{ContextLevels: search.ContextLevels(contextLevels), CaseSensitive: caseSensitive}
				if noGlob {
					opts.Glob = search.GlobOff
				}
				res, err := rt.engine.Search(tab, snapMode, args[0], opts)
				if err != nil {
					return browser.WrapError(err, "search")
				}
				if jsonOut {
					return printJSON(res)
				}
				fmt.Print(search.Format(res))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&contextLevels, "context", "C", 1, "context lines around matches (0 for none)")
	cmd.Flags().BoolVar(&caseSensitive, "case-sensitive", false, "match case")
	cmd.Flags().BoolVar(&noGlob, "no-glob", false, "treat glob characters literally")
	return cmd
}

// elementCmd builds a command that acts on one element of the stored
// snapshot.
func elementCmd(use, short string, args cobra.PositionalArgs, run func(ctx context.Context, el browser.Element, args []string) (*browser.ActionResult, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(func(ctx context.Context, rt *app, tab browser.TabID) error {
				snapMode, err := rt.restore(ctx, tab)
				if err != nil {
					return err
				}
				el, err := rt.engine.Element(ctx, tab, args[0], snapMode)
				if err != nil {
					return browser.WrapError(err, cmd.Name())
				}
				defer el.Dispose()

				res, err := run(ctx, el, args)
				if err != nil {
					return browser.WrapError(err, cmd.Name())
				}
				if jsonOut {
					return printJSON(res)
				}
				if res != nil && !res.Success {
					return fmt.Errorf("%s failed: %s", cmd.Name(), res.Message)
				}
				if res != nil && res.Message != "" {
					fmt.Println(res.Message)
				}
				return nil
			})
		},
	}
}

// ClickCmd clicks an element.
func ClickCmd() *cobra.Command {
	var double bool
	cmd := elementCmd("click <uid>", "Click an element", cobra.ExactArgs(1),
		func(ctx context.Context, el browser.Element, _ []string) (*browser.ActionResult, error) {
			opts := browser.ClickOptions{Count: 1}
			if double {
				opts.Count = 2
			}
			return el.Click(ctx, opts)
		})
	cmd.Flags().BoolVar(&double, "double", false, "double-click")
	return cmd
}

// FillCmd replaces an editable element's contents.
func FillCmd() *cobra.Command {
	return elementCmd("fill <uid> <value>", "Fill an input, textarea or editor", cobra.ExactArgs(2),
		func(ctx context.Context, el browser.Element, args []string) (*browser.ActionResult, error) {
			return el.Fill(ctx, args[1])
		})
}

// HoverCmd moves the mouse over an element.
func HoverCmd() *cobra.Command {
	return elementCmd("hover <uid>", "Hover over an element", cobra.ExactArgs(1),
		func(ctx context.Context, el browser.Element, _ []string) (*browser.ActionResult, error) {
			return el.Hover(ctx)
		})
}

// ValueCmd prints a rich editor's text.
func ValueCmd() *cobra.Command {
	return elementCmd("value <uid>", "Print the text of a rich editor", cobra.ExactArgs(1),
		func(ctx context.Context, el browser.Element, args []string) (*browser.ActionResult, error) {
			v, err := el.EditorValue(ctx)
			if err != nil {
				return nil, err
			}
			if v == nil {
				return &browser.ActionResult{Success: false, Message: "no editor found", ID: args[0]}, nil
			}
			return &browser.ActionResult{Success: true, Message: *v, ID: args[0]}, nil
		})
}

// HighlightCmd outlines an element on the page.
func HighlightCmd() *cobra.Command {
	var d time.Duration
	cmd := elementCmd("highlight <uid>", "Outline an element briefly", cobra.ExactArgs(1),
		func(ctx context.Context, el browser.Element, args []string) (*browser.ActionResult, error) {
			if err := el.Highlight(ctx, d); err != nil {
				return nil, err
			}
			return &browser.ActionResult{Success: true, Message: "Highlighted " + args[0], ID: args[0]}, nil
		})
	cmd.Flags().DurationVar(&d, "duration", 2*time.Second, "how long the outline stays")
	return cmd
}
