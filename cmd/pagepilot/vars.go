package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neboloop/pagepilot/internal/config"
	"github.com/neboloop/pagepilot/internal/logging"
)

// Shared CLI flags (used across multiple command files)
var (
	cfgFile  string
	tabID    string
	mode     string
	verbose  bool
	jsonOut  bool
	driver   string
	cdpURL   string
	launch   bool
	headless bool
)

// AppConfig holds the loaded configuration (set by main, replaced by --config)
var AppConfig *config.Config

// configPath is the file AppConfig came from; watched by long-running commands.
var configPath string

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd(c *config.Config, path string) *cobra.Command {
	AppConfig = c
	configPath = path

	rootCmd := &cobra.Command{
		Use:   "pagepilot",
		Short: "pagepilot - drive a live browser tab by accessibility snapshot",
		Long: `pagepilot attaches to a running Chrome (or to the pagepilot extension), captures an
accessibility snapshot of a tab with a stable uid per element, and clicks, fills and
hovers those elements by uid.

  pagepilot tabs
  pagepilot snapshot --tab <id>
  pagepilot search --tab <id> "checkout|pay"
  pagepilot click --tab <id> <uid>`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return prepare(cmd)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: "+path+")")
	rootCmd.PersistentFlags().StringVarP(&tabID, "tab", "t", "", "tab id (default: first page tab)")
	rootCmd.PersistentFlags().StringVarP(&mode, "mode", "m", "", "snapshot mode: cdp or dom (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print JSON instead of text")
	rootCmd.PersistentFlags().StringVar(&driver, "driver", "", "cdp or extension (default from config)")
	rootCmd.PersistentFlags().StringVar(&cdpURL, "cdp-url", "", "remote debugging endpoint")
	rootCmd.PersistentFlags().BoolVar(&launch, "launch", false, "launch Chrome when nothing is listening")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", false, "launch Chrome headless")

	// Add commands
	rootCmd.AddCommand(TabsCmd())
	rootCmd.AddCommand(SnapshotCmd())
	rootCmd.AddCommand(SearchCmd())
	rootCmd.AddCommand(ClickCmd())
	rootCmd.AddCommand(FillCmd())
	rootCmd.AddCommand(HoverCmd())
	rootCmd.AddCommand(ValueCmd())
	rootCmd.AddCommand(HighlightCmd())
	rootCmd.AddCommand(SnapshotsCmd())
	rootCmd.AddCommand(RelayCmd())
	rootCmd.AddCommand(MCPCmd())
	rootCmd.AddCommand(DoctorCmd())

	return rootCmd
}

// prepare loads --config, applies flag overrides and sets up logging.
func prepare(cmd *cobra.Command) error {
	if cfgFile != "" {
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		AppConfig = &c
		configPath = cfgFile
	}

	b := &AppConfig.Browser
	flags := cmd.Flags()
	if flags.Changed("driver") {
		b.Driver = driver
	}
	if flags.Changed("cdp-url") {
		b.CDPUrl = cdpURL
	}
	if flags.Changed("mode") {
		b.Mode = mode
	}
	if flags.Changed("launch") {
		b.Launch = launch
	}
	if flags.Changed("headless") {
		b.Headless = headless
	}

	opts := AppConfig.Log
	opts.Output = os.Stderr
	if verbose {
		opts.Level = "debug"
	}
	logging.Setup(opts)
	// Suppress logging for one-shot commands
	if !verbose && cmd.Annotations[annotationServer] == "" {
		logging.Disable()
	}
	return nil
}

// annotationServer marks long-running commands that keep logging on.
const annotationServer = "server"

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
