package commands

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/superfly/fsm"

	"github.com/zipline/zipline-go/internal/config"
	"github.com/zipline/zipline-go/pkg/cache"
	"github.com/zipline/zipline-go/pkg/db"
	"github.com/zipline/zipline-go/pkg/errors"
	"github.com/zipline/zipline-go/pkg/event"
	"github.com/zipline/zipline-go/pkg/fetch"
	appfsm "github.com/zipline/zipline-go/pkg/fsm"
	"github.com/zipline/zipline-go/pkg/loader"
	"github.com/zipline/zipline-go/pkg/storage"
)

var downloadCmd = &cobra.Command{
	Use:   "download <manifest-url>",
	Short: "Materialize a manifest's modules into the download directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	manifestURL := args[0]

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	if err := ensureDirectories(cfg.CacheDir, cfg.CacheDBPath, cfg.FSMDBPath, cfg.DownloadDir); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.CacheDBPath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	store, err := cache.New(cfg.CacheDir, repo, cfg.MaxCacheSize, nil)
	if err != nil {
		return errors.Wrap(err, "cache init failed")
	}

	throttle, err := fetch.NewThrottle(cfg.ConcurrentDownloads)
	if err != nil {
		return errors.Wrap(err, "throttle init failed")
	}

	var s3Origin fetch.BlobDownloader
	if cfg.S3Enabled {
		s3Client, err := storage.NewClient(ctx, cfg.S3Region)
		if err != nil {
			return errors.Wrap(err, "S3 client failed")
		}
		s3Origin = s3Client
	}

	pipeline, err := fetch.NewPipeline(fetch.PipelineConfig{
		ApplicationName: cfg.ApplicationName,
		EmbeddedDir:     cfg.EmbeddedDir,
		Cache:           store,
		HTTP:            fetch.NewHTTPDownloader(fetch.NewHTTPClient(time.Duration(cfg.HTTPTimeoutSeconds) * time.Second)),
		S3:              s3Origin,
		Throttle:        throttle,
		Listener:        event.Slog{},
	})
	if err != nil {
		return errors.Wrap(err, "pipeline init failed")
	}

	ldr := loader.New(pipeline, cfg.ApplicationName, event.Slog{})

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := appfsm.NewMachine(pipeline, ldr, cfg.FSMMaxRetries)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	req := &appfsm.DownloadRequest{
		ManifestURL: manifestURL,
		DownloadDir: cfg.DownloadDir,
	}
	resp := &appfsm.DownloadResponse{}

	version, err := start(ctx, manifestURL, fsm.NewRequest(req, resp))
	if err != nil {
		return errors.Wrap(err, "FSM start failed")
	}

	slog.Info("fsm started", "version", version)

	if err := manager.Wait(ctx, version); err != nil {
		return errors.Wrap(err, "FSM execution failed")
	}

	slog.Info("download completed",
		"status", resp.Status,
		"module_count", resp.ModuleCount,
		"main_module_id", resp.MainModuleID,
		"download_dir", cfg.DownloadDir)

	return nil
}
