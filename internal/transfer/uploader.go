package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/drivetools/drivesync/internal/drive"
	"github.com/drivetools/drivesync/internal/logging"
	"github.com/drivetools/drivesync/internal/metrics"
	"go.uber.org/zap"
)

// ErrInvalidLocalFile is returned when an upload candidate is missing or
// does not match the configured extension policy.
var ErrInvalidLocalFile = errors.New("transfer: invalid local file")

// UploadCatalog is the probing/creation surface the uploader needs.
// Satisfied by *drive.Catalog.
type UploadCatalog interface {
	FindItemByName(ctx context.Context, parentID, name string, kind drive.Kind) (string, bool, error)
	CreateFolder(ctx context.Context, name, parentID string) (string, error)
}

// SessionClient is the resumable upload surface. Satisfied by
// *drive.UploadClient.
type SessionClient interface {
	InitiateSession(ctx context.Context, sr drive.SessionRequest) (string, error)
	PutContent(ctx context.Context, locationToken string, r io.Reader, size int64) error
	PutContentFrom(ctx context.Context, locationToken string, r io.Reader, offset, size int64) error
	ProbeOffset(ctx context.Context, locationToken string, size int64) (int64, error)
}

// UploaderConfig holds upload destination and validation policy.
type UploaderConfig struct {
	RootFolderID string // fixed remote root the version folder lives under
	AppVersion   string // version string naming the per-version folder
	Extension    string // "" = extensionless files only, "*" = any, else exact match
}

// Uploader drives the upload side: a strict FIFO of pending local files,
// one in flight process-wide, each going through existence probe, session
// initiation and content transfer. A file leaves the pending list only
// after its content transfer was attempted, success or not.
type Uploader struct {
	catalog  UploadCatalog
	sessions SessionClient
	cfg      UploaderConfig
	hashTag  string

	versionFolderID string
	pending         []string
}

// NewUploader creates an Uploader stamping hashTag into every uploaded
// filename.
func NewUploader(catalog UploadCatalog, sessions SessionClient, cfg UploaderConfig, hashTag string) *Uploader {
	return &Uploader{
		catalog:  catalog,
		sessions: sessions,
		cfg:      cfg,
		hashTag:  hashTag,
	}
}

// escapeRemoteName strips characters that the remote name matching chokes
// on (tabs, newlines, apostrophes).
func escapeRemoteName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\r', '\'':
			return -1
		}
		return r
	}, name)
}

// versionFolderName renders the app version as a folder name.
func versionFolderName(version string) string {
	return strings.ReplaceAll(escapeRemoteName(version), " ", "_")
}

// EnsureVersionFolder finds or creates the per-version destination folder
// under the fixed upload root and caches its id for the rest of the run.
func (u *Uploader) EnsureVersionFolder(ctx context.Context) error {
	if u.versionFolderID != "" {
		return nil
	}

	name := versionFolderName(u.cfg.AppVersion)

	// The probe runs without a parent constraint, the creation pins the
	// parent to the upload root.
	id, found, err := u.catalog.FindItemByName(ctx, "", name, drive.KindFolder)
	if err != nil {
		return err
	}
	if !found {
		id, err = u.catalog.CreateFolder(ctx, name, u.cfg.RootFolderID)
		if err != nil {
			return err
		}
	}

	u.versionFolderID = id
	logging.Info("resolved version folder",
		zap.String("name", name),
		zap.String("id", id))
	return nil
}

// Enqueue validates a local file and appends it to the pending list.
// Returns ErrInvalidLocalFile when the file is missing or its extension
// does not match the policy.
func (u *Uploader) Enqueue(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s not found", ErrInvalidLocalFile, path)
	}

	ext := filepath.Ext(path)
	switch u.cfg.Extension {
	case "*":
	case "":
		if ext != "" {
			return fmt.Errorf("%w: %s has an unexpected extension %q", ErrInvalidLocalFile, path, ext)
		}
	default:
		if !strings.EqualFold(ext, u.cfg.Extension) {
			return fmt.Errorf("%w: %s has an unexpected extension %q", ErrInvalidLocalFile, path, ext)
		}
	}

	u.pending = append(u.pending, path)
	metrics.SetQueueDepth("uploads", len(u.pending))
	return nil
}

// Pending returns the number of files waiting for upload.
func (u *Uploader) Pending() int {
	return len(u.pending)
}

// Run processes the pending list strictly in arrival order, one file in
// flight at a time. A failed file is dropped, not retried; the run
// continues with the next. Returns the number of failures; the only error
// returned directly is a context cancellation or a version-folder
// bootstrap failure.
func (u *Uploader) Run(ctx context.Context) (int, error) {
	if err := u.EnsureVersionFolder(ctx); err != nil {
		return len(u.pending), err
	}

	failures := 0
	for len(u.pending) > 0 {
		if err := ctx.Err(); err != nil {
			return failures, err
		}

		path := u.pending[0]
		if err := u.uploadOne(ctx, path); err != nil {
			failures++
			metrics.RecordUpload("error", 0)
			logging.Error("failed to upload file, dropping from queue",
				zap.String("path", path),
				zap.Error(err))
		}
		// Pop only after the attempt, never preemptively.
		u.pending = u.pending[1:]
		metrics.SetQueueDepth("uploads", len(u.pending))
	}

	return failures, nil
}

// uploadOne runs the three-phase protocol for a single file: probe the
// per-file folder and the tagged file name, initiate a create or update
// session, then transfer the content.
func (u *Uploader) uploadOne(ctx context.Context, path string) error {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	escaped := escapeRemoteName(base)
	taggedName := fmt.Sprintf("%s_Hash%s", escaped, u.hashTag)

	// Phase A: per-file folder under the version folder.
	folderID, found, err := u.catalog.FindItemByName(ctx, u.versionFolderID, escaped, drive.KindFolder)
	if err != nil {
		return err
	}
	if !found {
		folderID, err = u.catalog.CreateFolder(ctx, escaped, u.versionFolderID)
		if err != nil {
			return err
		}
	}

	// Phase A continued: does this installation's copy already exist?
	existingID, exists, err := u.catalog.FindItemByName(ctx, folderID, taggedName, drive.KindBlob)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s vanished before upload", ErrInvalidLocalFile, path)
	}
	size := info.Size()

	// Phase B: session initiation, create or update.
	sr := drive.SessionRequest{
		Name:          taggedName,
		ContentLength: size,
	}
	if exists {
		sr.Mode = drive.ModeUpdate
		sr.ExistingID = existingID
	} else {
		sr.Mode = drive.ModeCreate
		sr.ParentID = folderID
	}

	token, err := u.sessions.InitiateSession(ctx, sr)
	if err != nil {
		return err
	}

	// Phase C: content transfer, with one resume attempt on failure.
	if err := u.putFile(ctx, token, path, size); err != nil {
		return err
	}

	metrics.RecordUpload("ok", size)
	logging.Info("uploaded file",
		zap.String("path", path),
		zap.String("remote_name", taggedName),
		zap.Bool("updated_existing", exists),
		zap.Int64("bytes", size))
	return nil
}

// putFile streams the file body into the session. When the first transfer
// fails, the session is probed for the bytes it already holds and the
// remainder is sent once more before giving up.
func (u *Uploader) putFile(ctx context.Context, token, path string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrInvalidLocalFile, path, err)
	}

	putErr := u.sessions.PutContent(ctx, token, f, size)
	f.Close()
	if putErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return putErr
	}

	offset, err := u.sessions.ProbeOffset(ctx, token, size)
	if err != nil || offset <= 0 || offset >= size {
		if offset == size && err == nil {
			return nil // session completed despite the transport error
		}
		return putErr
	}

	logging.Warn("resuming interrupted content transfer",
		zap.String("path", path),
		zap.Int64("offset", offset),
		zap.Int64("size", size))

	f, err = os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: reopen %s: %v", ErrInvalidLocalFile, path, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return putErr
	}
	return u.sessions.PutContentFrom(ctx, token, f, offset, size)
}
