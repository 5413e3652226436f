package browser

import (
	"log/slog"
	"time"
)

// sensitiveCommands are CDP methods that change page state or run script.
// They are logged at info level; everything else at debug.
var sensitiveCommands = map[string]bool{
	"Runtime.evaluate":               true,
	"Runtime.callFunctionOn":         true,
	"Page.navigate":                  true,
	"Network.setCookie":              true,
	"Network.deleteCookies":          true,
	"Input.dispatchKeyEvent":         true,
	"Input.insertText":               true,
	"DOM.setAttributeValue":          true,
	"Page.setDocumentContent":        true,
	"Emulation.setUserAgentOverride": true,
}

type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &auditLogger{
		logger: logger.With("component", "cdp-audit"),
	}
}

func (l *auditLogger) logCommand(tab TabID, method string, elapsed time.Duration, err error) {
	if l == nil {
		return
	}

	attrs := []any{
		"tab", truncateID(string(tab)),
		"method", method,
		"elapsed_ms", elapsed.Milliseconds(),
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}

	if sensitiveCommands[method] {
		l.logger.Info("cdp_sensitive_command", attrs...)
	} else {
		l.logger.Debug("cdp_command", attrs...)
	}
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
