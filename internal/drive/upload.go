package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/drivetools/drivesync/internal/logging"
	"github.com/drivetools/drivesync/internal/metrics"
	"go.uber.org/zap"
)

// SessionMode selects between creating a new remote file and updating an
// existing one when initiating an upload session.
type SessionMode int

const (
	ModeCreate SessionMode = iota
	ModeUpdate
)

// SessionRequest describes one resumable upload session.
type SessionRequest struct {
	Name          string // remote file name, dedup tag included
	ParentID      string // destination folder id (create mode)
	ExistingID    string // remote file id (update mode)
	Mode          SessionMode
	ContentLength int64
}

// UploadConfig holds the upload endpoint location.
type UploadConfig struct {
	UploadBaseURL string // e.g. https://www.googleapis.com/upload/drive/v3
	Timeout       time.Duration
}

// UploadClient drives the resumable upload protocol: session initiation
// (create or update) followed by a content PUT against the session token.
type UploadClient struct {
	cfg        UploadConfig
	tokens     tokenProvider
	httpClient *http.Client
}

// NewUploadClient creates an UploadClient backed by the given token source.
func NewUploadClient(cfg UploadConfig, tokens tokenProvider) *UploadClient {
	if cfg.Timeout == 0 {
		// Content PUTs carry whole files; allow them time.
		cfg.Timeout = 10 * time.Minute
	}
	return &UploadClient{
		cfg:        cfg,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// InitiateSession starts a resumable upload session and returns the session
// location token: the Location response header with everything up to and
// including its first ampersand stripped. Returns ErrSessionInit if the
// response is non-200 or carries no Location header.
func (u *UploadClient) InitiateSession(ctx context.Context, sr SessionRequest) (string, error) {
	token, err := u.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	var (
		method string
		reqURL string
		meta   any
	)
	if sr.Mode == ModeCreate {
		method = http.MethodPost
		reqURL = u.cfg.UploadBaseURL + "/files?supportsTeamDrives=true&uploadType=resumable"
		meta = struct {
			Name     string   `json:"name"`
			MimeType string   `json:"mimeType"`
			Parents  []string `json:"parents"`
		}{sr.Name, "application/octet-stream", []string{sr.ParentID}}
	} else {
		method = http.MethodPatch
		reqURL = fmt.Sprintf("%s/files/%s?supportsTeamDrives=true&uploadType=resumable", u.cfg.UploadBaseURL, url.PathEscape(sr.ExistingID))
		meta = struct {
			Name     string `json:"name"`
			MimeType string `json:"mimeType"`
		}{sr.Name, "application/octet-stream"}
	}

	body, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("%w: marshal metadata: %v", ErrSessionInit, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrSessionInit, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", "application/octet-stream")
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(sr.ContentLength, 10))

	resp, err := u.httpClient.Do(req)
	if err != nil {
		metrics.RecordRemoteRequest("session_init", "error")
		return "", fmt.Errorf("%w: %v", ErrSessionInit, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordRemoteRequest("session_init", "error")
		return "", fmt.Errorf("%w: session initiation returned status %d", ErrSessionInit, resp.StatusCode)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		metrics.RecordRemoteRequest("session_init", "error")
		return "", fmt.Errorf("%w: response carried no Location header", ErrSessionInit)
	}

	metrics.RecordRemoteRequest("session_init", "ok")
	logging.Debug("upload session initiated",
		zap.String("name", sr.Name),
		zap.Int64("content_length", sr.ContentLength))

	return mungeLocationToken(location), nil
}

// mungeLocationToken strips everything up to and including the first
// ampersand of the Location header, leaving the session-carrying query
// parameters to be appended to the upload endpoint.
func mungeLocationToken(location string) string {
	if idx := strings.Index(location, "&"); idx >= 0 {
		return location[idx+1:]
	}
	return location
}

// sessionURL rebuilds the PUT target from a session location token.
func (u *UploadClient) sessionURL(locationToken string) string {
	return u.cfg.UploadBaseURL + "/files?supportsTeamDrives=true&uploadType=resumable&" + locationToken
}

// PutContent transfers the file body against the session identified by
// locationToken. Returns ErrUpload on a transport error or a non-success
// status.
func (u *UploadClient) PutContent(ctx context.Context, locationToken string, r io.Reader, size int64) error {
	token, err := u.tokens.Token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.sessionURL(locationToken), r)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrUpload, err)
	}
	req.ContentLength = size
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		metrics.RecordRemoteRequest("content_put", "error")
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		metrics.RecordRemoteRequest("content_put", "error")
		return fmt.Errorf("%w: content transfer returned status %d", ErrUpload, resp.StatusCode)
	}

	metrics.RecordRemoteRequest("content_put", "ok")
	return nil
}

// PutContentFrom transfers the tail of the file body starting at offset,
// carrying a Content-Range header so the session appends instead of
// restarting. Used to resume a phase that died partway.
func (u *UploadClient) PutContentFrom(ctx context.Context, locationToken string, r io.Reader, offset, size int64) error {
	token, err := u.tokens.Token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.sessionURL(locationToken), r)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrUpload, err)
	}
	req.ContentLength = size - offset
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, size-1, size))

	resp, err := u.httpClient.Do(req)
	if err != nil {
		metrics.RecordRemoteRequest("content_put", "error")
		return fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		metrics.RecordRemoteRequest("content_put", "error")
		return fmt.Errorf("%w: resumed transfer returned status %d", ErrUpload, resp.StatusCode)
	}

	metrics.RecordRemoteRequest("content_put", "ok")
	return nil
}

// ProbeOffset asks the session how many bytes it has received, using an
// empty PUT with "Content-Range: bytes */<size>". A 308 response with a
// Range header yields the next byte offset to send; a success status means
// the session already holds the whole file (offset == size).
func (u *UploadClient) ProbeOffset(ctx context.Context, locationToken string, size int64) (int64, error) {
	token, err := u.tokens.Token(ctx)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.sessionURL(locationToken), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: create request: %v", ErrUpload, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", size))

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return size, nil
	case resp.StatusCode == 308: // Resume Incomplete
		rangeHeader := resp.Header.Get("Range")
		if rangeHeader == "" {
			return 0, nil
		}
		// Range: bytes=0-<last>
		idx := strings.LastIndex(rangeHeader, "-")
		if idx < 0 {
			return 0, fmt.Errorf("%w: malformed Range header %q", ErrUpload, rangeHeader)
		}
		last, err := strconv.ParseInt(rangeHeader[idx+1:], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: malformed Range header %q", ErrUpload, rangeHeader)
		}
		return last + 1, nil
	default:
		return 0, fmt.Errorf("%w: offset probe returned status %d", ErrUpload, resp.StatusCode)
	}
}
