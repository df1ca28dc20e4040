// Package loader loads the modules of a manifest into a host engine in
// dependency order, overlapping fetches with linking: every module's fetch
// starts immediately, only the link step gates on upstream modules.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/zipline/zipline-go/pkg/event"
	"github.com/zipline/zipline-go/pkg/fetch"
	"github.com/zipline/zipline-go/pkg/manifest"
	"github.com/zipline/zipline-go/pkg/ziplinefile"
)

// ErrEngine reports that the engine sink rejected a module.
var ErrEngine = errors.New("engine rejected module")

// Loader orchestrates manifest loads through a fetch pipeline.
type Loader struct {
	pipeline *fetch.Pipeline
	appName  string
	listener event.Listener
}

// New creates a Loader. A nil listener discards events.
func New(pipeline *fetch.Pipeline, appName string, listener event.Listener) *Loader {
	if listener == nil {
		listener = event.Nop{}
	}
	return &Loader{
		pipeline: pipeline,
		appName:  appName,
		listener: listener,
	}
}

// Load fetches the manifest at manifestURL and links every module into
// engine. Each module's bytes resolve concurrently; its link waits for all
// declared dependencies to have linked. The first failing module cancels
// its siblings and is returned. On cancellation the engine may hold a
// dependency-closed prefix of the manifest.
func (l *Loader) Load(ctx context.Context, engine Engine, manifestURL string) error {
	man, base, err := l.pipeline.FetchManifest(ctx, manifestURL)
	if err != nil {
		return err
	}

	slog.Info("load_start",
		"app", l.appName,
		"manifest_url", manifestURL,
		"module_count", man.Len(),
		"main_module_id", man.MainModuleID())

	dispatcher := newLinkDispatcher()
	defer dispatcher.close()

	g, gctx := errgroup.WithContext(ctx)

	linked := make(map[string]chan struct{}, man.Len())
	for _, id := range man.ModuleIDs() {
		linked[id] = make(chan struct{})
	}

	for _, id := range man.ModuleIDs() {
		mod, _ := man.Module(id)
		g.Go(func() error {
			return l.loadModule(gctx, dispatcher, engine, base, id, mod, linked)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("load_complete", "app", l.appName, "module_count", man.Len())
	return nil
}

// loadModule fetches, parses, and links one module. Fetch and parse run on
// the calling pool goroutine; the engine call is funneled through the
// dispatcher after all upstream modules have linked.
func (l *Loader) loadModule(
	ctx context.Context,
	dispatcher *linkDispatcher,
	engine Engine,
	base *url.URL,
	id string,
	mod manifest.Module,
	linked map[string]chan struct{},
) error {
	data, err := l.pipeline.ModuleBytes(ctx, base, mod)
	if err != nil {
		l.listener.LoadFailed(l.appName, id, err)
		return err
	}

	file, err := ziplinefile.Decode(data)
	if err != nil {
		l.listener.LoadFailed(l.appName, id, err)
		return fmt.Errorf("module %s: %w", id, err)
	}

	for _, dep := range mod.DependsOnIDs {
		select {
		case <-linked[dep]:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err = dispatcher.do(ctx, func() error {
		return engine.Install(ctx, id, file.Bytecode)
	})
	if err != nil {
		l.listener.LoadFailed(l.appName, id, err)
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrEngine, id, err)
	}

	close(linked[id])
	l.listener.ModuleLinked(l.appName, id)
	return nil
}
