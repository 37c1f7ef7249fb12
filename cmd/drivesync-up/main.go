// drivesync-up - Google Drive upload tool
//
// Uploads local files into a per-version folder on a shared drive, tagging
// each remote filename with the installation's hash id so re-uploads update
// the existing item instead of duplicating it.
//
// Usage:
//
//	drivesync-up FILE [FILE...]
//
// Configuration comes from the environment (DRIVE_ID, UPLOAD_ROOT_FOLDER_ID,
// REFRESH_TOKEN, CLIENT_ID, CLIENT_SECRET, APP_VERSION, DATA_DIR, ...).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/drivetools/drivesync/internal/config"
	"github.com/drivetools/drivesync/internal/drive"
	"github.com/drivetools/drivesync/internal/logging"
	"github.com/drivetools/drivesync/internal/metrics"
	"github.com/drivetools/drivesync/internal/transfer"
	"go.uber.org/zap"
)

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: drivesync-up FILE [FILE...]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	if cfg.UploadRootFolderID == "" {
		fmt.Fprintln(os.Stderr, "configuration error: UPLOAD_ROOT_FOLDER_ID is required")
		os.Exit(1)
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintln(os.Stderr, "logging init error:", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				logging.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	hashTag, err := transfer.LoadOrCreateHashTag(cfg.DataDir)
	if err != nil {
		logging.Fatal("unable to load installation hash tag", zap.Error(err))
	}

	tokens := drive.NewTokenSource(drive.TokenConfig{
		TokenURL:     cfg.TokenURL,
		RefreshToken: cfg.RefreshToken,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	})
	catalog := drive.NewCatalog(drive.CatalogConfig{
		APIBaseURL: cfg.APIBaseURL,
		DriveID:    cfg.DriveID,
	}, tokens)
	sessions := drive.NewUploadClient(drive.UploadConfig{
		UploadBaseURL: cfg.UploadBaseURL,
	}, tokens)

	uploader := transfer.NewUploader(catalog, sessions, transfer.UploaderConfig{
		RootFolderID: cfg.UploadRootFolderID,
		AppVersion:   cfg.AppVersion,
		Extension:    cfg.UploadExtension,
	}, hashTag)

	rejected := 0
	for _, path := range flag.Args() {
		if err := uploader.Enqueue(path); err != nil {
			rejected++
			fmt.Fprintln(os.Stderr, "skipping:", err)
		}
	}
	if uploader.Pending() == 0 {
		fmt.Fprintln(os.Stderr, "nothing to upload")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Info("interrupt received, stopping after the file in flight")
		cancel()
	}()

	failures, err := uploader.Run(ctx)
	if err != nil {
		logging.Error("upload run aborted", zap.Error(err))
	}

	fmt.Printf("uploads finished: %d failed, %d rejected\n", failures, rejected)
	if failures > 0 || rejected > 0 || err != nil {
		os.Exit(1)
	}
}
