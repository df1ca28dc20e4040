// Package fetch resolves module bytes through tiered lookup: the embedded
// directory first, then the content cache, then the network behind a
// download throttle.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/zipline/zipline-go/pkg/cache"
	zerrors "github.com/zipline/zipline-go/pkg/errors"
	"github.com/zipline/zipline-go/pkg/event"
	"github.com/zipline/zipline-go/pkg/manifest"
)

// EmbeddedManifestName is the filename of the offline-fallback manifest
// inside the embedded directory.
const EmbeddedManifestName = "manifest.zipline.json"

// PipelineConfig wires a Pipeline's collaborators.
type PipelineConfig struct {
	// ApplicationName labels listener events.
	ApplicationName string
	// EmbeddedDir holds trusted precompiled modules keyed by hex digest,
	// plus the fallback manifest. Empty disables the embedded tier.
	EmbeddedDir string
	// Cache backs the cache/network tier.
	Cache *cache.Cache
	// HTTP downloads http(s) URLs.
	HTTP BlobDownloader
	// S3 downloads s3 URLs. Optional.
	S3 BlobDownloader
	// Throttle bounds concurrent network downloads. Nil gets the default.
	Throttle *Throttle
	// Listener receives events. Nil gets a no-op listener.
	Listener event.Listener
}

// Pipeline resolves manifest and module bytes for the loader.
type Pipeline struct {
	appName     string
	embeddedDir string
	cache       *cache.Cache
	http        BlobDownloader
	s3          BlobDownloader
	throttle    *Throttle
	listener    event.Listener
}

// NewPipeline creates a Pipeline from cfg.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("pipeline requires a cache")
	}
	if cfg.HTTP == nil {
		return nil, fmt.Errorf("pipeline requires an HTTP downloader")
	}
	throttle := cfg.Throttle
	if throttle == nil {
		var err error
		throttle, err = NewThrottle(DefaultConcurrentDownloads)
		if err != nil {
			return nil, err
		}
	}
	listener := cfg.Listener
	if listener == nil {
		listener = event.Nop{}
	}
	return &Pipeline{
		appName:     cfg.ApplicationName,
		embeddedDir: cfg.EmbeddedDir,
		cache:       cfg.Cache,
		http:        cfg.HTTP,
		s3:          cfg.S3,
		throttle:    throttle,
		listener:    listener,
	}, nil
}

// Throttle returns the download throttle, for runtime reconfiguration.
func (p *Pipeline) Throttle() *Throttle {
	return p.throttle
}

// ModuleBytes resolves the raw container bytes for a module. Embedded reads
// bypass the cache and the throttle; everything else goes through
// Cache.GetOrPut with a throttled network producer.
func (p *Pipeline) ModuleBytes(ctx context.Context, base *url.URL, mod manifest.Module) ([]byte, error) {
	if p.embeddedDir != "" {
		path := filepath.Join(p.embeddedDir, mod.SHA256.Hex())
		data, err := os.ReadFile(path)
		if err == nil {
			slog.Debug("module_resolved_embedded", "digest", mod.SHA256.Hex())
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, zerrors.Wrapf(err, "failed to read embedded module %s", mod.SHA256.Hex())
		}
	}

	resolved, err := p.resolveURL(base, mod.URL)
	if err != nil {
		return nil, err
	}
	return p.cache.GetOrPut(ctx, mod.SHA256, func(ctx context.Context) ([]byte, error) {
		return p.download(ctx, resolved)
	})
}

// FetchManifest downloads and parses the manifest at manifestURL. A network
// failure falls back to the embedded manifest; a parse failure surfaces
// after being reported to the listener. The returned URL is the base for
// resolving relative module URLs.
func (p *Pipeline) FetchManifest(ctx context.Context, manifestURL string) (*manifest.Manifest, *url.URL, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, nil, zerrors.Wrapf(err, "invalid manifest url %s", manifestURL)
	}

	data, err := p.download(ctx, manifestURL)
	if err != nil {
		if !errors.Is(err, ErrNetwork) || p.embeddedDir == "" {
			return nil, nil, err
		}
		slog.Warn("manifest_fetch_failed_using_embedded", "url", manifestURL, "error", err)
		embedded := filepath.Join(p.embeddedDir, EmbeddedManifestName)
		data, err = os.ReadFile(embedded)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: manifest unreachable and no embedded fallback: %v", ErrNetwork, err)
		}
	}

	man, err := manifest.Parse(data)
	if err != nil {
		p.listener.ManifestParseFailed(p.appName, manifestURL, err)
		return nil, nil, err
	}
	return man, base, nil
}

// download acquires the network throttle and fetches url with the
// downloader matching its scheme.
func (p *Pipeline) download(ctx context.Context, rawURL string) ([]byte, error) {
	downloader, err := p.downloaderFor(rawURL)
	if err != nil {
		return nil, err
	}

	release, err := p.throttle.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	p.listener.DownloadStart(p.appName, rawURL)
	data, err := downloader.Download(ctx, rawURL)
	if err != nil {
		p.listener.DownloadFailed(p.appName, rawURL, err)
		return nil, err
	}
	p.listener.DownloadSuccess(p.appName, rawURL)
	return data, nil
}

func (p *Pipeline) downloaderFor(rawURL string) (BlobDownloader, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, zerrors.Wrapf(err, "invalid url %s", rawURL)
	}
	if u.Scheme == "s3" {
		if p.s3 == nil {
			return nil, fmt.Errorf("no s3 downloader configured for %s", rawURL)
		}
		return p.s3, nil
	}
	return p.http, nil
}

func (p *Pipeline) resolveURL(base *url.URL, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", zerrors.Wrapf(err, "invalid module url %s", raw)
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	return u.String(), nil
}
