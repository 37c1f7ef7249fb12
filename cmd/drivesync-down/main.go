// drivesync-down - Google Drive download tool
//
// Browses a shared-drive folder tree and downloads files or whole subtrees
// to a local directory, mirroring the remote hierarchy.
//
// Modes:
//
//	drivesync-down            Interactive browser (ls/cd/up/get/getall/sync)
//	drivesync-down -sync      One-shot recursive download of the root folder
//
// Configuration comes from the environment (DRIVE_ID, ROOT_FOLDER_ID,
// REFRESH_TOKEN, CLIENT_ID, CLIENT_SECRET, DOWNLOAD_ROOT, ...).
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/drivetools/drivesync/internal/config"
	"github.com/drivetools/drivesync/internal/drive"
	"github.com/drivetools/drivesync/internal/logging"
	"github.com/drivetools/drivesync/internal/metrics"
	"github.com/drivetools/drivesync/internal/transfer"
	"go.uber.org/zap"
)

func main() {
	syncMode := flag.Bool("sync", false, "recursively download the root folder and exit")
	rootID := flag.String("root", "", "override the remote root folder id")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	if *rootID != "" {
		cfg.RootFolderID = *rootID
	}
	if cfg.RootFolderID == "" {
		fmt.Fprintln(os.Stderr, "configuration error: ROOT_FOLDER_ID (or -root) is required")
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
	mapper := transfer.NewPathMapper(cfg.DownloadRoot)
	engine := transfer.NewEngine(catalog, mapper, cfg.RootFolderID, "root", cfg.MirrorFolders)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logging.Info("interrupt received, cancelling downloads")
		engine.Cancel()
		cancel()
	}()

	if err := engine.Refresh(ctx); err != nil {
		logging.Fatal("unable to browse root folder", zap.Error(err))
	}

	if *syncMode {
		runWithProgress(engine, func() error { return engine.DownloadRecursive(ctx) })
		fmt.Printf("done: %d of %d files\n", engine.Processed(), engine.Total())
		return
	}

	runInteractive(ctx, engine)
}

// runWithProgress runs op while a ticker prints processed/total counts.
func runWithProgress(engine *transfer.Engine, op func() error) {
	done := make(chan error, 1)
	go func() { done <- op() }()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				fmt.Fprintln(os.Stderr, "download failed:", err)
			}
			return
		case <-ticker.C:
			fmt.Printf("\rdownloading %d/%d...", engine.Processed(), engine.Total())
		}
	}
}

func runInteractive(ctx context.Context, engine *transfer.Engine) {
	fmt.Println("drivesync interactive browser. Commands: ls, cd N, up, find Q, get N, getall, sync, quit")
	printView(engine)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("[%s] > ", engine.PathString())
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "ls":
			if err := engine.Refresh(ctx); err != nil {
				fmt.Println("error:", err)
				continue
			}
			printView(engine)

		case "cd":
			item, ok := pickItem(engine, fields)
			if !ok {
				continue
			}
			if !item.IsFolder() {
				fmt.Println(item.Name, "is not a folder")
				continue
			}
			if err := engine.Browse(ctx, item.ID, item.Name); err != nil {
				fmt.Println("error:", err)
				continue
			}
			printView(engine)

		case "up":
			if err := engine.GoUp(ctx); err != nil {
				if errors.Is(err, transfer.ErrHierarchyUnderflow) {
					fmt.Println("already at the root")
				} else {
					fmt.Println("error:", err)
				}
				continue
			}
			printView(engine)

		case "find":
			if len(fields) < 2 {
				fmt.Println("usage: find QUERY")
				continue
			}
			if err := engine.Find(ctx, strings.Join(fields[1:], " ")); err != nil {
				fmt.Println("error:", err)
				continue
			}
			printView(engine)

		case "get":
			item, ok := pickItem(engine, fields)
			if !ok {
				continue
			}
			if item.IsFolder() {
				fmt.Println(item.Name, "is a folder; use cd then getall")
				continue
			}
			if err := engine.DownloadItem(ctx, item); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("downloaded", item.Name)

		case "getall":
			runWithProgress(engine, func() error { return engine.DownloadCurrent(ctx) })
			fmt.Printf("\ndone: %d of %d files\n", engine.Processed(), engine.Total())

		case "sync":
			runWithProgress(engine, func() error { return engine.DownloadRecursive(ctx) })
			fmt.Printf("\ndone: %d of %d files\n", engine.Processed(), engine.Total())
			printView(engine)

		case "quit", "exit", "q":
			return

		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

// pickItem resolves the numeric argument of cd/get against the view.
func pickItem(engine *transfer.Engine, fields []string) (drive.Item, bool) {
	if len(fields) < 2 {
		fmt.Println("usage:", fields[0], "N")
		return drive.Item{}, false
	}
	idx, err := strconv.Atoi(fields[1])
	view := engine.View()
	if err != nil || idx < 0 || idx >= len(view) {
		fmt.Println("no item numbered", fields[1])
		return drive.Item{}, false
	}
	return view[idx], true
}

func printView(engine *transfer.Engine) {
	view := engine.View()
	if len(view) == 0 {
		fmt.Println("(this folder is empty)")
		return
	}
	for i, item := range view {
		fmt.Printf("%3d  %-8s %s\n", i, item.MimeType, item.Name)
	}
}
