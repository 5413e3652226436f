package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/pagepilot/internal/browser"
	"github.com/neboloop/pagepilot/internal/store"
)

// DoctorCmd creates the doctor command for health checks
func DoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the browser connection and local state",
		Long: `Run diagnostics on your pagepilot setup.

Checks:
  - Configuration file
  - Chrome executable
  - CDP endpoint (or extension relay)
  - Snapshot store`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor()
		},
	}
}

type checkResult struct {
	name    string
	status  string // "ok", "warn", "error"
	message string
}

func runDoctor() error {
	fmt.Println("\033[1mpagepilot doctor\033[0m")
	fmt.Println("================")
	fmt.Println()

	cfg := browser.ResolveConfig(AppConfig.Browser)
	var results []checkResult
	results = append(results, checkConfigFile())
	results = append(results, checkChrome(cfg))
	results = append(results, checkEndpoint(cfg))
	results = append(results, checkStore())

	errorCount := printResults(results)
	if errorCount > 0 {
		return fmt.Errorf("doctor found %d problem(s)", errorCount)
	}
	return nil
}

func printResults(results []checkResult) int {
	okCount, warnCount, errorCount := 0, 0, 0
	for _, r := range results {
		switch r.status {
		case "ok":
			fmt.Printf("\033[32m✓\033[0m %s: %s\n", r.name, r.message)
			okCount++
		case "warn":
			fmt.Printf("\033[33m⚠\033[0m %s: %s\n", r.name, r.message)
			warnCount++
		case "error":
			fmt.Printf("\033[31m✗\033[0m %s: %s\n", r.name, r.message)
			errorCount++
		}
	}

	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  \033[32m%d passed\033[0m", okCount)
	if warnCount > 0 {
		fmt.Printf("  \033[33m%d warnings\033[0m", warnCount)
	}
	if errorCount > 0 {
		fmt.Printf("  \033[31m%d errors\033[0m", errorCount)
	}
	fmt.Println()
	return errorCount
}

func checkConfigFile() checkResult {
	if configPath == "" {
		return checkResult{name: "Config File", status: "warn", message: "no config path; using defaults"}
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return checkResult{name: "Config File", status: "warn", message: configPath + " not found; using defaults"}
	}
	return checkResult{name: "Config File", status: "ok", message: configPath}
}

func checkChrome(cfg *browser.ResolvedConfig) checkResult {
	exe, err := browser.FindChromeExecutable(cfg.ExecutablePath)
	if err != nil {
		return checkResult{name: "Chrome", status: "error", message: err.Error()}
	}
	if exe == nil {
		status := "warn"
		if cfg.Launch {
			status = "error"
		}
		return checkResult{name: "Chrome", status: status, message: "no Chrome or Chromium found; set browser.executablePath"}
	}
	return checkResult{name: "Chrome", status: "ok", message: fmt.Sprintf("%s (%s)", exe.Path, exe.Kind)}
}

func checkEndpoint(cfg *browser.ResolvedConfig) checkResult {
	if cfg.Driver == browser.DriverExtension {
		return checkResult{name: "Relay", status: "ok", message: "extension driver; run 'pagepilot relay' and load the extension (" + cfg.RelayAddr + ")"}
	}
	if browser.IsChromeReachable(cfg.CDPUrl, 2*time.Second) {
		return checkResult{name: "CDP", status: "ok", message: cfg.CDPUrl}
	}
	if cfg.Launch {
		return checkResult{name: "CDP", status: "warn", message: cfg.CDPUrl + " not responding; Chrome will be launched on demand"}
	}
	return checkResult{
		name:    "CDP",
		status:  "error",
		message: fmt.Sprintf("%s not responding; start Chrome with --remote-debugging-port=%d or pass --launch", cfg.CDPUrl, cfg.CDPPort),
	}
}

func checkStore() checkResult {
	path := AppConfig.Store.Path
	if path == "" {
		return checkResult{name: "Snapshot Store", status: "warn", message: "disabled; ids do not survive between commands"}
	}
	st, err := store.Open(path)
	if err != nil {
		return checkResult{name: "Snapshot Store", status: "error", message: err.Error()}
	}
	defer st.Close()
	return checkResult{name: "Snapshot Store", status: "ok", message: path}
}
