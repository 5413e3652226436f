package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// BrowserKind identifies the type of Chromium-based browser.
type BrowserKind string

const (
	BrowserChrome   BrowserKind = "chrome"
	BrowserBrave    BrowserKind = "brave"
	BrowserEdge     BrowserKind = "edge"
	BrowserChromium BrowserKind = "chromium"
	BrowserCanary   BrowserKind = "canary"
	BrowserCustom   BrowserKind = "custom"
)

// BrowserExecutable represents a found browser binary.
type BrowserExecutable struct {
	Kind BrowserKind
	Path string
}

// RunningChrome represents a running Chrome instance.
type RunningChrome struct {
	PID         int
	Executable  *BrowserExecutable
	UserDataDir string
	CDPPort     int
	StartedAt   time.Time
	cmd         *exec.Cmd
}

// FindChromeExecutable finds a Chrome/Chromium browser on the system.
func FindChromeExecutable(customPath string) (*BrowserExecutable, error) {
	if customPath != "" {
		if !fileExists(customPath) {
			return nil, fmt.Errorf("browser executable not found: %s", customPath)
		}
		return &BrowserExecutable{Kind: BrowserCustom, Path: customPath}, nil
	}

	switch runtime.GOOS {
	case "darwin":
		return findChromeMac(), nil
	case "linux":
		return findChromeLinux(), nil
	case "windows":
		return findChromeWindows(), nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// IsChromeReachable checks if Chrome CDP is responding.
func IsChromeReachable(cdpURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var version struct{}
	return getJSON(ctx, cdpURL, "/json/version", &version) == nil
}

// GetChromeWebSocketURL gets the CDP WebSocket URL from a running Chrome.
func GetChromeWebSocketURL(cdpURL string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := getJSON(ctx, cdpURL, "/json/version", &version); err != nil {
		return "", err
	}
	if version.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("no webSocketDebuggerUrl in response")
	}
	return version.WebSocketDebuggerURL, nil
}

// getJSON decodes one of Chrome's /json endpoints into v.
func getJSON(ctx context.Context, cdpURL, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(cdpURL, "/")+endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", endpoint, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// LaunchChrome starts a local Chrome with remote debugging on the configured
// port and waits until the endpoint answers.
func LaunchChrome(ctx context.Context, config *ResolvedConfig, logger *slog.Logger) (*RunningChrome, error) {
	if !config.CDPIsLoopback {
		return nil, fmt.Errorf("cdp url %s is remote; cannot launch local Chrome", config.CDPUrl)
	}
	if logger == nil {
		logger = slog.Default()
	}

	exe, err := FindChromeExecutable(config.ExecutablePath)
	if err != nil {
		return nil, err
	}
	if exe == nil {
		return nil, fmt.Errorf("no supported browser found (Chrome/Brave/Edge/Chromium)")
	}

	userDataDir := config.UserDataDir
	if err := os.MkdirAll(userDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create user data dir: %w", err)
	}

	args := buildChromeArgs(userDataDir, config.CDPPort, config)
	cmd := exec.Command(exe.Path, args...)
	cmd.Env = append(os.Environ(), "HOME="+os.Getenv("HOME"))
	detachBrowserGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start Chrome: %w", err)
	}
	logger.Info("launched browser", "kind", exe.Kind, "pid", cmd.Process.Pid, "port", config.CDPPort)

	running := &RunningChrome{
		PID:         cmd.Process.Pid,
		Executable:  exe,
		UserDataDir: userDataDir,
		CDPPort:     config.CDPPort,
		StartedAt:   time.Now(),
		cmd:         cmd,
	}

	// Wait for CDP to be ready
	cdpURL := fmt.Sprintf("http://127.0.0.1:%d", config.CDPPort)
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if IsChromeReachable(cdpURL, 500*time.Millisecond) {
			return running, nil
		}
		select {
		case <-ctx.Done():
			_ = signalBrowser(cmd.Process, stopKill)
			return nil, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	// CDP didn't come up, kill the process
	_ = signalBrowser(cmd.Process, stopKill)
	return nil, fmt.Errorf("Chrome CDP did not start on port %d within 15s", config.CDPPort)
}

// stopMode selects how a launched browser is stopped.
type stopMode int

const (
	stopGraceful stopMode = iota
	stopKill
)

// StopChrome stops a running Chrome instance and its child processes.
func StopChrome(running *RunningChrome, timeout time.Duration) error {
	if running.cmd == nil || running.cmd.Process == nil {
		return nil
	}

	if err := signalBrowser(running.cmd.Process, stopGraceful); err != nil {
		return signalBrowser(running.cmd.Process, stopKill)
	}

	done := make(chan error, 1)
	go func() {
		done <- running.cmd.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return signalBrowser(running.cmd.Process, stopKill)
	}
}

// ListTabs returns the page targets reported by the /json/list endpoint.
func ListTabs(ctx context.Context, cdpURL string) ([]TabInfo, error) {
	var targets []TabInfo
	if err := getJSON(ctx, cdpURL, "/json/list", &targets); err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	tabs := targets[:0]
	for _, t := range targets {
		if t.Type == "page" {
			tabs = append(tabs, t)
		}
	}
	return tabs, nil
}

func buildChromeArgs(userDataDir string, cdpPort int, config *ResolvedConfig) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", cdpPort),
		fmt.Sprintf("--user-data-dir=%s", userDataDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-sync",
		"--disable-background-networking",
		"--disable-component-update",
		"--disable-features=Translate,MediaRouter",
		"--disable-session-crashed-bubble",
		"--hide-crash-restore-bubble",
		"--password-store=basic",
	}

	if config.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}

	if config.NoSandbox {
		args = append(args, "--no-sandbox", "--disable-setuid-sandbox")
	}

	if runtime.GOOS == "linux" {
		args = append(args, "--disable-dev-shm-usage")
	}

	// Always open a blank tab to ensure a target exists
	args = append(args, "about:blank")

	return args
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// firstExisting returns the first candidate present on disk.
func firstExisting(candidates []BrowserExecutable) *BrowserExecutable {
	for _, c := range candidates {
		if c.Path != "" && fileExists(c.Path) {
			exe := c
			return &exe
		}
	}
	return nil
}

func findChromeMac() *BrowserExecutable {
	bundles := []struct {
		kind BrowserKind
		app  string
	}{
		{BrowserChrome, "Google Chrome"},
		{BrowserBrave, "Brave Browser"},
		{BrowserEdge, "Microsoft Edge"},
		{BrowserChromium, "Chromium"},
		{BrowserCanary, "Google Chrome Canary"},
	}
	home := os.Getenv("HOME")
	var candidates []BrowserExecutable
	for _, b := range bundles {
		rel := filepath.Join(b.app+".app", "Contents", "MacOS", b.app)
		candidates = append(candidates,
			BrowserExecutable{Kind: b.kind, Path: filepath.Join("/Applications", rel)},
			BrowserExecutable{Kind: b.kind, Path: filepath.Join(home, "Applications", rel)},
		)
	}
	return firstExisting(candidates)
}

// linuxBinaries are looked up on PATH before the fixed locations.
var linuxBinaries = []struct {
	kind BrowserKind
	name string
}{
	{BrowserChrome, "google-chrome"},
	{BrowserChrome, "google-chrome-stable"},
	{BrowserChrome, "chrome"},
	{BrowserBrave, "brave-browser"},
	{BrowserBrave, "brave"},
	{BrowserEdge, "microsoft-edge"},
	{BrowserEdge, "microsoft-edge-stable"},
	{BrowserChromium, "chromium"},
	{BrowserChromium, "chromium-browser"},
}

func findChromeLinux() *BrowserExecutable {
	for _, b := range linuxBinaries {
		if path, err := exec.LookPath(b.name); err == nil {
			return &BrowserExecutable{Kind: b.kind, Path: path}
		}
	}
	var candidates []BrowserExecutable
	for _, b := range linuxBinaries {
		candidates = append(candidates, BrowserExecutable{Kind: b.kind, Path: "/usr/bin/" + b.name})
	}
	candidates = append(candidates,
		BrowserExecutable{Kind: BrowserBrave, Path: "/snap/bin/brave"},
		BrowserExecutable{Kind: BrowserChromium, Path: "/snap/bin/chromium"},
	)
	return firstExisting(candidates)
}

func findChromeWindows() *BrowserExecutable {
	programFiles := envOr("ProgramFiles", `C:\Program Files`)
	programFilesX86 := envOr("ProgramFiles(x86)", `C:\Program Files (x86)`)
	var roots []string
	if local := os.Getenv("LOCALAPPDATA"); local != "" {
		roots = append(roots, local)
	}
	roots = append(roots, programFiles, programFilesX86)

	installs := []struct {
		kind BrowserKind
		path []string
	}{
		{BrowserChrome, []string{"Google", "Chrome", "Application", "chrome.exe"}},
		{BrowserBrave, []string{"BraveSoftware", "Brave-Browser", "Application", "brave.exe"}},
		{BrowserEdge, []string{"Microsoft", "Edge", "Application", "msedge.exe"}},
		{BrowserCanary, []string{"Google", "Chrome SxS", "Application", "chrome.exe"}},
	}
	var candidates []BrowserExecutable
	for _, in := range installs {
		for _, root := range roots {
			candidates = append(candidates, BrowserExecutable{
				Kind: in.kind,
				Path: filepath.Join(append([]string{root}, in.path...)...),
			})
		}
	}
	return firstExisting(candidates)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
