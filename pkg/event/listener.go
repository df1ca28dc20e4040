// Package event defines the listener through which loader and pipeline
// failures and milestones are reported for operational observability.
package event

import "log/slog"

// Listener receives load-pipeline events. Implementations must be safe for
// concurrent use; calls happen on whatever goroutine raised the event.
type Listener interface {
	DownloadStart(applicationName, url string)
	DownloadSuccess(applicationName, url string)
	DownloadFailed(applicationName, url string, err error)
	ManifestParseFailed(applicationName, url string, err error)
	ModuleLinked(applicationName, moduleID string)
	LoadFailed(applicationName, moduleID string, err error)
}

// Nop discards all events.
type Nop struct{}

func (Nop) DownloadStart(string, string)              {}
func (Nop) DownloadSuccess(string, string)            {}
func (Nop) DownloadFailed(string, string, error)      {}
func (Nop) ManifestParseFailed(string, string, error) {}
func (Nop) ModuleLinked(string, string)               {}
func (Nop) LoadFailed(string, string, error)          {}

// Slog reports events through the default structured logger.
type Slog struct{}

func (Slog) DownloadStart(app, url string) {
	slog.Info("download_start", "app", app, "url", url)
}

func (Slog) DownloadSuccess(app, url string) {
	slog.Info("download_success", "app", app, "url", url)
}

func (Slog) DownloadFailed(app, url string, err error) {
	slog.Error("download_failed", "app", app, "url", url, "error", err)
}

func (Slog) ManifestParseFailed(app, url string, err error) {
	slog.Error("manifest_parse_failed", "app", app, "url", url, "error", err)
}

func (Slog) ModuleLinked(app, moduleID string) {
	slog.Info("module_linked", "app", app, "module_id", moduleID)
}

func (Slog) LoadFailed(app, moduleID string, err error) {
	slog.Error("module_load_failed", "app", app, "module_id", moduleID, "error", err)
}
