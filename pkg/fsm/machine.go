// Package fsm drives manifest materialization through a persisted state
// machine, so an interrupted download resumes where it stopped instead of
// starting over.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/superfly/fsm"
	"github.com/zipline/zipline-go/pkg/cache"
	zerrors "github.com/zipline/zipline-go/pkg/errors"
	"github.com/zipline/zipline-go/pkg/fetch"
	"github.com/zipline/zipline-go/pkg/loader"
	"github.com/zipline/zipline-go/pkg/manifest"
	"github.com/zipline/zipline-go/pkg/ziplinefile"
)

// Machine holds dependencies for FSM transitions
type Machine struct {
	pipeline   *fetch.Pipeline
	loader     *loader.Loader
	maxRetries int
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(pipeline *fetch.Pipeline, ldr *loader.Loader, maxRetries int) *Machine {
	return &Machine{
		pipeline:   pipeline,
		loader:     ldr,
		maxRetries: maxRetries,
	}
}

// Register registers the manifest download FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[DownloadRequest, DownloadResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[DownloadRequest, DownloadResponse](manager, "manifest-download").
		Start(StateFetchManifest, m.handleFetchManifest).
		To(StateDownloadModules, m.handleDownloadModules).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, zerrors.Wrap(err, "failed to register FSM")
	}
	return start, resume, nil
}

// handleFetchManifest fetches and validates the manifest before any module
// bytes move
func (m *Machine) handleFetchManifest(ctx context.Context, req *fsm.Request[DownloadRequest, DownloadResponse]) (*fsm.Response[DownloadResponse], error) {
	slog.Info("fsm_state_fetch_manifest", "manifest_url", req.Msg.ManifestURL)

	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "manifest_url", req.Msg.ManifestURL, "max_retries", m.maxRetries)
		return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &DownloadResponse{}
	}

	man, _, err := m.pipeline.FetchManifest(ctx, req.Msg.ManifestURL)
	if err != nil {
		if errors.Is(err, manifest.ErrMalformedManifest) {
			slog.Error("manifest_malformed", "manifest_url", req.Msg.ManifestURL, "error", err)
			return nil, fsm.Abort(err)
		}
		slog.Error("manifest_fetch_failed", "manifest_url", req.Msg.ManifestURL, "error", err)
		return nil, zerrors.Wrap(err, "failed to fetch manifest")
	}

	resp.ModuleCount = man.Len()
	resp.MainModuleID = man.MainModuleID()
	slog.Info("manifest_fetched",
		"manifest_url", req.Msg.ManifestURL,
		"module_count", resp.ModuleCount,
		"main_module_id", resp.MainModuleID)

	return fsm.NewResponse(resp), nil
}

// handleDownloadModules materializes every module into the download
// directory
func (m *Machine) handleDownloadModules(ctx context.Context, req *fsm.Request[DownloadRequest, DownloadResponse]) (*fsm.Response[DownloadResponse], error) {
	slog.Info("fsm_state_download_modules",
		"manifest_url", req.Msg.ManifestURL,
		"download_dir", req.Msg.DownloadDir)

	if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
		slog.Error("max_retries_exceeded", "manifest_url", req.Msg.ManifestURL, "max_retries", m.maxRetries)
		return nil, fsm.Abort(fmt.Errorf("max retries (%d) exceeded", m.maxRetries))
	}

	resp := req.W.Msg
	if resp == nil {
		return nil, fsm.Abort(fmt.Errorf("response not initialized"))
	}

	if err := m.loader.Download(ctx, req.Msg.DownloadDir, req.Msg.ManifestURL); err != nil {
		// Integrity and framing failures will not heal on retry.
		if errors.Is(err, cache.ErrIntegrityMismatch) ||
			errors.Is(err, manifest.ErrMalformedManifest) ||
			errors.Is(err, ziplinefile.ErrMalformedFile) ||
			errors.Is(err, ziplinefile.ErrUnsupportedVersion) {
			slog.Error("download_unrecoverable", "manifest_url", req.Msg.ManifestURL, "error", err)
			resp.ErrorMessage = err.Error()
			return nil, fsm.Abort(err)
		}
		slog.Error("download_failed", "manifest_url", req.Msg.ManifestURL, "error", err)
		return nil, zerrors.Wrap(err, "failed to download modules")
	}

	slog.Info("modules_downloaded", "module_count", resp.ModuleCount, "download_dir", req.Msg.DownloadDir)
	return fsm.NewResponse(resp), nil
}

// handleComplete marks the FSM as complete
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[DownloadRequest, DownloadResponse]) (*fsm.Response[DownloadResponse], error) {
	resp := req.W.Msg
	if resp == nil {
		resp = &DownloadResponse{}
	}
	resp.Status = StatusComplete

	slog.Info("fsm_complete",
		"manifest_url", req.Msg.ManifestURL,
		"module_count", resp.ModuleCount,
		"status", resp.Status)

	return fsm.NewResponse(resp), nil
}
