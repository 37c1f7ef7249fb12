package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/drivetools/drivesync/internal/drive"
	"github.com/drivetools/drivesync/internal/logging"
	"github.com/drivetools/drivesync/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrHierarchyUnderflow is returned by GoUp when the browse position is
	// already at the root sentinel.
	ErrHierarchyUnderflow = errors.New("transfer: cannot go above hierarchy root")

	// ErrBusy is returned when an operation is requested while another one
	// still owns the engine.
	ErrBusy = errors.New("transfer: engine is busy")
)

// State is the engine's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateBrowsing
	StateDownloadingSingle
	StateDownloadingRecursive
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBrowsing:
		return "browsing"
	case StateDownloadingSingle:
		return "downloading"
	case StateDownloadingRecursive:
		return "downloading-recursive"
	case StateCancelling:
		return "cancelling"
	default:
		return "unknown"
	}
}

// PathEntry is one folder level of the browse hierarchy.
type PathEntry struct {
	ID   string
	Name string
}

// Catalog is the remote surface the engine needs. Satisfied by
// *drive.Catalog.
type Catalog interface {
	ListChildren(ctx context.Context, parentID, nameQuery string) ([]drive.Item, error)
	DownloadFile(ctx context.Context, id string) (io.ReadCloser, error)
}

// folderTask is a pending folder expansion during a recursive download.
type folderTask struct {
	parentID   string
	parentName string
}

// fileTask is a pending blob download. The destination directory is resolved
// when the task is enqueued, while the hierarchy points at its folder.
type fileTask struct {
	item    drive.Item
	destDir string
}

// Engine owns the browse hierarchy and the two transfer work queues, and
// drives download cycles against the remote catalog. All mutable state lives
// here; operations run one at a time (single flight), requests within an
// operation are strictly sequential, and cancellation is observed at drain
// iteration boundaries only.
//
// Browse/GoUp/Download* must be called from one goroutine at a time
// (concurrent calls fail with ErrBusy). Cancel, Processed, Total and State
// are safe from any goroutine.
type Engine struct {
	catalog       Catalog
	mapper        *PathMapper
	mirrorFolders bool

	hierarchy []PathEntry
	view      []drive.Item

	folderQueue []folderTask
	fileQueue   []fileTask

	// set while draining recursively
	firstRecursive bool
	recursionBase  int

	busy      atomic.Bool
	state     atomic.Int32
	cancelled atomic.Bool
	processed atomic.Int64
	total     atomic.Int64
}

// NewEngine creates an engine rooted at the given remote folder. The root
// entry is a permanent sentinel; GoUp never removes it.
func NewEngine(catalog Catalog, mapper *PathMapper, rootID, rootName string, mirrorFolders bool) *Engine {
	if rootName == "" {
		rootName = "root"
	}
	return &Engine{
		catalog:       catalog,
		mapper:        mapper,
		mirrorFolders: mirrorFolders,
		hierarchy:     []PathEntry{{ID: rootID, Name: rootName}},
	}
}

// begin claims the engine for one operation.
func (e *Engine) begin(s State) error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	e.state.Store(int32(s))
	return nil
}

func (e *Engine) end() {
	e.state.Store(int32(StateIdle))
	e.busy.Store(false)
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Processed returns the number of file tasks attempted so far.
func (e *Engine) Processed() int64 {
	return e.processed.Load()
}

// Total returns the number of file tasks enqueued so far.
func (e *Engine) Total() int64 {
	return e.total.Load()
}

// Cancel requests cooperative cancellation of an in-flight download cycle.
// It is observed at the next drain-loop boundary; the request in flight at
// that moment still completes but its successors never start.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

// View returns the children of the current browse position, as loaded by
// the last successful Browse.
func (e *Engine) View() []drive.Item {
	return e.view
}

// Path returns the hierarchy from the root sentinel to the current position.
func (e *Engine) Path() []PathEntry {
	return e.hierarchy
}

// PathString renders the hierarchy for display.
func (e *Engine) PathString() string {
	s := ""
	for i, entry := range e.hierarchy {
		if i > 0 {
			s += " > "
		}
		s += entry.Name
	}
	return s
}

// Browse loads the children of parentID as the current view. A non-empty
// name means drilling down: the entry is pushed onto the hierarchy first,
// and popped again if the query fails, so the hierarchy is never left in a
// pushed-but-unresolved state. An empty name refreshes a level without
// touching the hierarchy.
func (e *Engine) Browse(ctx context.Context, parentID, name string) error {
	if err := e.begin(StateBrowsing); err != nil {
		return err
	}
	defer e.end()
	return e.browse(ctx, parentID, name, "")
}

// Find browses the current folder filtered by a name-contains query.
func (e *Engine) Find(ctx context.Context, query string) error {
	if err := e.begin(StateBrowsing); err != nil {
		return err
	}
	defer e.end()
	top := e.hierarchy[len(e.hierarchy)-1]
	return e.browse(ctx, top.ID, "", query)
}

// Refresh reloads the current hierarchy level.
func (e *Engine) Refresh(ctx context.Context) error {
	if err := e.begin(StateBrowsing); err != nil {
		return err
	}
	defer e.end()
	top := e.hierarchy[len(e.hierarchy)-1]
	return e.browse(ctx, top.ID, "", "")
}

// GoUp pops one hierarchy level and re-browses the new top. Fails with
// ErrHierarchyUnderflow at the root; the hierarchy is left unchanged.
func (e *Engine) GoUp(ctx context.Context) error {
	if err := e.begin(StateBrowsing); err != nil {
		return err
	}
	defer e.end()

	if len(e.hierarchy) <= 1 {
		return ErrHierarchyUnderflow
	}
	e.hierarchy = e.hierarchy[:len(e.hierarchy)-1]
	top := e.hierarchy[len(e.hierarchy)-1]
	return e.browse(ctx, top.ID, "", "")
}

// browse performs the shared query-and-rollback step.
func (e *Engine) browse(ctx context.Context, parentID, name, query string) error {
	pushed := false
	if name != "" {
		e.hierarchy = append(e.hierarchy, PathEntry{ID: parentID, Name: name})
		pushed = true
	}

	items, err := e.catalog.ListChildren(ctx, parentID, query)
	if err != nil {
		if pushed {
			e.hierarchy = e.hierarchy[:len(e.hierarchy)-1]
		}
		logging.Error("failed to list folder children",
			zap.String("parent_id", parentID),
			zap.Error(err))
		return err
	}

	e.view = items
	return nil
}

// DownloadItem downloads a single blob from the current view into the
// directory mapped from the current hierarchy.
func (e *Engine) DownloadItem(ctx context.Context, item drive.Item) error {
	if err := e.begin(StateDownloadingSingle); err != nil {
		return err
	}
	defer e.end()

	if item.IsFolder() {
		return fmt.Errorf("transfer: %s is a folder, not a blob", item.Name)
	}

	dir, err := e.mapper.EnsureLocalPath(e.hierarchy)
	if err != nil {
		return err
	}

	e.processed.Store(0)
	e.total.Store(1)
	e.fileQueue = append(e.fileQueue, fileTask{item: item, destDir: dir})
	return e.drain(ctx, false)
}

// DownloadCurrent downloads every blob in the current view. Folder children
// are mirrored as empty local directories when the mirror policy is on, but
// are not descended into.
func (e *Engine) DownloadCurrent(ctx context.Context) error {
	if err := e.begin(StateDownloadingSingle); err != nil {
		return err
	}
	defer e.end()

	e.processed.Store(0)
	e.total.Store(0)
	if err := e.enqueueView(false); err != nil {
		return err
	}
	return e.drain(ctx, false)
}

// DownloadRecursive downloads the current view and every folder below it.
// Folder children become pending expansions; file downloads always drain
// before the next expansion so pending file tasks never pile up across
// folder levels.
func (e *Engine) DownloadRecursive(ctx context.Context) error {
	if err := e.begin(StateDownloadingRecursive); err != nil {
		return err
	}
	defer e.end()

	e.processed.Store(0)
	e.total.Store(0)
	e.folderQueue = e.folderQueue[:0]
	e.firstRecursive = true
	e.recursionBase = len(e.hierarchy)

	if err := e.enqueueView(true); err != nil {
		return err
	}
	return e.drain(ctx, true)
}

// enqueueView turns the current view into tasks at the directory mapped
// from the current hierarchy.
func (e *Engine) enqueueView(recursive bool) error {
	dir, err := e.mapper.EnsureLocalPath(e.hierarchy)
	if err != nil {
		return err
	}

	for _, item := range e.view {
		if item.IsFolder() {
			if recursive {
				e.folderQueue = append(e.folderQueue, folderTask{parentID: item.ID, parentName: item.Name})
				continue
			}
			if e.mirrorFolders {
				if _, err := e.mapper.EnsureSubdir(dir, item.Name); err != nil {
					logging.Error("failed to mirror folder", zap.String("name", item.Name), zap.Error(err))
				}
			}
			continue
		}
		e.fileQueue = append(e.fileQueue, fileTask{item: item, destDir: dir})
		e.total.Add(1)
	}

	metrics.SetQueueDepth("files", len(e.fileQueue))
	metrics.SetQueueDepth("folders", len(e.folderQueue))
	return nil
}

// drain processes the two queues to exhaustion: cancellation check first,
// then one file download, then one folder expansion, strictly in that
// order. A failed download is logged and skipped; a failed folder listing
// is treated as a folder with no children.
func (e *Engine) drain(ctx context.Context, recursive bool) error {
	for {
		if e.cancelled.Load() {
			e.cancelled.Store(false)
			e.state.Store(int32(StateCancelling))
			e.fileQueue = e.fileQueue[:0]
			e.folderQueue = e.folderQueue[:0]
			metrics.SetQueueDepth("files", 0)
			metrics.SetQueueDepth("folders", 0)
			if recursive {
				e.hierarchy = e.hierarchy[:e.recursionBase]
			}
			logging.Info("download cancelled",
				zap.Int64("processed", e.processed.Load()),
				zap.Int64("total", e.total.Load()))
			return nil
		}

		if len(e.fileQueue) > 0 {
			task := e.fileQueue[0]
			e.fileQueue = e.fileQueue[1:]
			metrics.SetQueueDepth("files", len(e.fileQueue))

			if err := e.downloadOne(ctx, task); err != nil {
				// Best-effort batch: drop the item, keep going.
				logging.Error("failed to download file, skipping",
					zap.String("name", task.item.Name),
					zap.Error(err))
				metrics.RecordDownload("error", 0)
			}
			e.processed.Add(1)
			continue
		}

		if len(e.folderQueue) > 0 {
			task := e.folderQueue[0]
			e.folderQueue = e.folderQueue[1:]
			metrics.SetQueueDepth("folders", len(e.folderQueue))

			if e.firstRecursive {
				e.firstRecursive = false
			} else if len(e.hierarchy) > e.recursionBase {
				e.hierarchy = e.hierarchy[:len(e.hierarchy)-1]
			}

			if err := e.browse(ctx, task.parentID, task.parentName, ""); err != nil {
				// Listing failure aborts this folder only; the drain goes on
				// as if it had no children.
				continue
			}
			if err := e.enqueueView(true); err != nil {
				logging.Error("failed to prepare local directories",
					zap.String("folder", task.parentName),
					zap.Error(err))
			}
			continue
		}

		// Both queues empty: restore the hierarchy to where recursion began
		// and reload it for display.
		if recursive {
			e.hierarchy = e.hierarchy[:e.recursionBase]
			top := e.hierarchy[len(e.hierarchy)-1]
			if err := e.browse(ctx, top.ID, "", ""); err != nil {
				logging.Error("failed to refresh view after recursive download", zap.Error(err))
			}
		}
		logging.Info("download queue drained",
			zap.Int64("processed", e.processed.Load()),
			zap.Int64("total", e.total.Load()))
		return nil
	}
}

// downloadOne fetches a blob and writes it under its destination directory.
func (e *Engine) downloadOne(ctx context.Context, task fileTask) error {
	logging.Debug("downloading file",
		zap.String("id", task.item.ID),
		zap.String("name", task.item.Name))

	body, err := e.catalog.DownloadFile(ctx, task.item.ID)
	if err != nil {
		return err
	}
	defer body.Close()

	dest := filepath.Join(task.destDir, SafeFilename(task.item.Name))
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}

	metrics.RecordDownload("ok", n)
	logging.Info("downloaded file",
		zap.String("name", task.item.Name),
		zap.String("dest", dest),
		zap.Int64("bytes", n))
	return nil
}
