// Package browser drives a live browser tab over the Chrome DevTools
// Protocol: session lifecycle, accessibility snapshots with stable element
// ids, and click/fill/hover on those ids across nested frames.
package browser

import "time"

// Timeouts and limits.
const (
	// DefaultCommandTimeout bounds a single protocol call.
	DefaultCommandTimeout = 10 * time.Second

	// DefaultIdleTimeout detaches a session nobody has used for this long.
	DefaultIdleTimeout = 30 * time.Second

	// DefaultActionTimeout bounds a whole click/fill/hover sequence.
	DefaultActionTimeout = 30 * time.Second

	// DefaultBatchConcurrency caps simultaneous per-node protocol calls.
	DefaultBatchConcurrency = 50

	// DefaultOverlayPause is waited after removing stray overlay frames.
	DefaultOverlayPause = 150 * time.Millisecond

	// clickSettle separates synthetic press and release.
	clickSettle = 50 * time.Millisecond
)

// DOM attributes written into the page.
const (
	// MarkerAttribute carries an element's snapshot id.
	MarkerAttribute = "data-pagepilot-uid"

	// OverlayAttribute marks iframes injected by pagepilot itself.
	OverlayAttribute = "data-pagepilot-overlay"
)

// Defaults for connecting to a browser.
const (
	// DefaultCDPPort is the default Chrome DevTools Protocol port.
	DefaultCDPPort = 9222

	// DefaultRelayPort is where the extension relay listens.
	DefaultRelayPort = 9224

	// RelayAuthHeader carries the relay token for non-loopback callers.
	RelayAuthHeader = "x-pagepilot-relay-token"
)

// Snapshot collection modes.
const (
	ModeCDP = "cdp"
	ModeDOM = "dom"
)

// Transport drivers.
const (
	// DriverCDP talks to Chrome's remote debugging port directly.
	DriverCDP = "cdp"

	// DriverExtension goes through the browser extension relay.
	DriverExtension = "extension"
)
