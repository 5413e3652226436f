package browser

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the browser section of the pagepilot config file.
type Config struct {
	// Driver is "cdp" (remote debugging port) or "extension" (relay).
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`

	// CDPUrl is the remote debugging endpoint, e.g. http://127.0.0.1:9222.
	CDPUrl string `json:"cdpUrl,omitempty" yaml:"cdpUrl,omitempty"`

	// Mode selects snapshot collection: "cdp" or "dom".
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`

	// RelayAddr is the listen address of the extension relay.
	RelayAddr string `json:"relayAddr,omitempty" yaml:"relayAddr,omitempty"`

	CommandTimeout   time.Duration `json:"commandTimeout,omitempty" yaml:"commandTimeout,omitempty"`
	IdleTimeout      time.Duration `json:"idleTimeout,omitempty" yaml:"idleTimeout,omitempty"`
	ActionTimeout    time.Duration `json:"actionTimeout,omitempty" yaml:"actionTimeout,omitempty"`
	OverlayPause     time.Duration `json:"overlayPause,omitempty" yaml:"overlayPause,omitempty"`
	BatchConcurrency int           `json:"batchConcurrency,omitempty" yaml:"batchConcurrency,omitempty"`

	// Launch starts a local Chrome when nothing answers on CDPUrl.
	Launch         bool   `json:"launch,omitempty" yaml:"launch,omitempty"`
	ExecutablePath string `json:"executablePath,omitempty" yaml:"executablePath,omitempty"`
	Headless       bool   `json:"headless,omitempty" yaml:"headless,omitempty"`
	NoSandbox      bool   `json:"noSandbox,omitempty" yaml:"noSandbox,omitempty"`
	UserDataDir    string `json:"userDataDir,omitempty" yaml:"userDataDir,omitempty"`
}

// ResolvedConfig is Config with every default applied.
type ResolvedConfig struct {
	Driver           string
	CDPUrl           string
	CDPPort          int
	CDPIsLoopback    bool
	Mode             string
	RelayAddr        string
	CommandTimeout   time.Duration
	IdleTimeout      time.Duration
	ActionTimeout    time.Duration
	OverlayPause     time.Duration
	BatchConcurrency int
	Launch           bool
	ExecutablePath   string
	Headless         bool
	NoSandbox        bool
	UserDataDir      string
}

// DefaultConfig returns the default browser configuration.
func DefaultConfig() Config {
	return Config{
		Driver:           DriverCDP,
		CDPUrl:           fmt.Sprintf("http://127.0.0.1:%d", DefaultCDPPort),
		Mode:             ModeCDP,
		RelayAddr:        fmt.Sprintf("127.0.0.1:%d", DefaultRelayPort),
		CommandTimeout:   DefaultCommandTimeout,
		IdleTimeout:      DefaultIdleTimeout,
		ActionTimeout:    DefaultActionTimeout,
		OverlayPause:     DefaultOverlayPause,
		BatchConcurrency: DefaultBatchConcurrency,
	}
}

// ResolveConfig resolves a browser config with defaults applied.
func ResolveConfig(cfg Config) *ResolvedConfig {
	def := DefaultConfig()
	resolved := &ResolvedConfig{
		Driver:           strings.ToLower(cfg.Driver),
		CDPUrl:           cfg.CDPUrl,
		Mode:             strings.ToLower(cfg.Mode),
		RelayAddr:        cfg.RelayAddr,
		CommandTimeout:   cfg.CommandTimeout,
		IdleTimeout:      cfg.IdleTimeout,
		ActionTimeout:    cfg.ActionTimeout,
		OverlayPause:     cfg.OverlayPause,
		BatchConcurrency: cfg.BatchConcurrency,
		Launch:           cfg.Launch,
		ExecutablePath:   cfg.ExecutablePath,
		Headless:         cfg.Headless,
		NoSandbox:        cfg.NoSandbox,
		UserDataDir:      cfg.UserDataDir,
	}

	if resolved.Driver != DriverExtension {
		resolved.Driver = DriverCDP
	}
	if resolved.Mode != ModeDOM {
		resolved.Mode = ModeCDP
	}
	if resolved.CDPUrl == "" {
		resolved.CDPUrl = def.CDPUrl
	}
	if resolved.RelayAddr == "" {
		resolved.RelayAddr = def.RelayAddr
	}
	if resolved.CommandTimeout <= 0 {
		resolved.CommandTimeout = def.CommandTimeout
	}
	if resolved.IdleTimeout <= 0 {
		resolved.IdleTimeout = def.IdleTimeout
	}
	if resolved.ActionTimeout <= 0 {
		resolved.ActionTimeout = def.ActionTimeout
	}
	if resolved.OverlayPause <= 0 {
		resolved.OverlayPause = def.OverlayPause
	}
	if resolved.BatchConcurrency <= 0 {
		resolved.BatchConcurrency = def.BatchConcurrency
	}
	if resolved.UserDataDir == "" {
		resolved.UserDataDir = filepath.Join(ConfigDir(), "browser", "user-data")
	}

	resolved.CDPPort = portFromURL(resolved.CDPUrl)
	resolved.CDPIsLoopback = isLoopbackURL(resolved.CDPUrl)
	return resolved
}

func portFromURL(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DefaultCDPPort
	}
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" || u.Scheme == "wss" {
			return 443
		}
		return 80
	}
	var p int
	fmt.Sscanf(port, "%d", &p)
	if p == 0 {
		return DefaultCDPPort
	}
	return p
}

func isLoopbackURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return isLoopbackHost(u.Hostname())
}

// ConfigDir is pagepilot's per-user directory. PAGEPILOT_CONFIG_DIR overrides it.
func ConfigDir() string {
	if dir := os.Getenv("PAGEPILOT_CONFIG_DIR"); dir != "" {
		return dir
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "pagepilot")
	}
	return filepath.Join(dir, "pagepilot")
}
