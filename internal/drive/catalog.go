package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/drivetools/drivesync/internal/logging"
	"github.com/drivetools/drivesync/internal/metrics"
	"github.com/drivetools/drivesync/internal/retry"
	"go.uber.org/zap"
)

// tokenProvider yields a valid bearer token before every remote call.
type tokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// CatalogConfig holds the remote API location and drive identity.
type CatalogConfig struct {
	APIBaseURL string // e.g. https://www.googleapis.com/drive/v3
	DriveID    string
	Timeout    time.Duration
	Retry      retry.Config
}

// Catalog queries and mutates the remote folder hierarchy. All calls fetch a
// bearer token first and carry the shared-drive query parameters.
type Catalog struct {
	cfg        CatalogConfig
	tokens     tokenProvider
	httpClient *http.Client
}

// NewCatalog creates a Catalog backed by the given token source.
func NewCatalog(cfg CatalogConfig, tokens tokenProvider) *Catalog {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return &Catalog{
		cfg:        cfg,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// ListChildren returns the immediate children of parentID, classified at
// construction time. A non-empty nameQuery narrows the listing to items
// whose name contains the query. Returns ErrRemoteQuery on a non-200
// response; the caller decides whether to roll back its browse context.
func (c *Catalog) ListChildren(ctx context.Context, parentID, nameQuery string) ([]Item, error) {
	q := fmt.Sprintf("'%s' in parents and trashed != true", parentID)
	if nameQuery != "" {
		q += fmt.Sprintf(" and name contains '%s'", nameQuery)
	}

	reqURL := fmt.Sprintf("%s/files?corpora=drive&driveId=%s&includeItemsFromAllDrives=true&supportsAllDrives=true&q=%s",
		c.cfg.APIBaseURL, url.QueryEscape(c.cfg.DriveID), url.QueryEscape(q))

	body, err := c.getJSON(ctx, "list_children", reqURL)
	if err != nil {
		return nil, err
	}

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.RecordRemoteRequest("list_children", "error")
		return nil, fmt.Errorf("%w: decode listing: %v", ErrRemoteQuery, err)
	}

	items := make([]Item, 0, len(parsed.Files))
	for _, f := range parsed.Files {
		items = append(items, ClassifyItem(f.ID, f.Name, f.MimeType))
	}

	logging.Debug("listed folder children",
		zap.String("parent_id", parentID),
		zap.Int("count", len(items)))

	return items, nil
}

// FindItemByName probes for an item of the given kind by exact name. An
// empty parentID searches without a parent constraint. When several items
// match, the first one wins. Returns found=false when the listing carries
// no entries.
func (c *Catalog) FindItemByName(ctx context.Context, parentID, name string, kind Kind) (string, bool, error) {
	op := "mimeType != '" + folderMimeType + "'"
	if kind == KindFolder {
		op = "mimeType = '" + folderMimeType + "'"
	}

	q := fmt.Sprintf("%s and name = '%s' and trashed != true", op, name)
	if parentID != "" {
		q += fmt.Sprintf(" and '%s' in parents", parentID)
	}

	reqURL := fmt.Sprintf("%s/files?corpora=drive&driveId=%s&includeItemsFromAllDrives=true&supportsAllDrives=true&q=%s",
		c.cfg.APIBaseURL, url.QueryEscape(c.cfg.DriveID), url.QueryEscape(q))

	body, err := c.getJSON(ctx, "find_item", reqURL)
	if err != nil {
		return "", false, err
	}

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.RecordRemoteRequest("find_item", "error")
		return "", false, fmt.Errorf("%w: decode search result: %v", ErrRemoteQuery, err)
	}

	if len(parsed.Files) == 0 {
		return "", false, nil
	}
	return parsed.Files[0].ID, true, nil
}

// CreateFolder creates a folder named name under parentID and returns its
// id. Returns ErrRemoteWrite on a non-200 response.
func (c *Catalog) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	reqBody, err := json.Marshal(struct {
		Name     string   `json:"name"`
		MimeType string   `json:"mimeType"`
		Parents  []string `json:"parents"`
	}{name, folderMimeType, []string{parentID}})
	if err != nil {
		return "", fmt.Errorf("%w: marshal folder body: %v", ErrRemoteWrite, err)
	}

	reqURL := c.cfg.APIBaseURL + "/files?supportsAllDrives=true&supportsTeamDrives=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("%w: create request: %v", ErrRemoteWrite, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordRemoteRequest("create_folder", "error")
		return "", fmt.Errorf("%w: %v", ErrRemoteWrite, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordRemoteRequest("create_folder", "error")
		return "", fmt.Errorf("%w: folder creation returned status %d", ErrRemoteWrite, resp.StatusCode)
	}

	var created fileRecord
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		metrics.RecordRemoteRequest("create_folder", "error")
		return "", fmt.Errorf("%w: decode creation response: %v", ErrRemoteWrite, err)
	}

	metrics.RecordRemoteRequest("create_folder", "ok")
	logging.Info("created remote folder",
		zap.String("name", name),
		zap.String("id", created.ID),
		zap.String("parent_id", parentID))

	return created.ID, nil
}

// DownloadFile fetches the raw content of a blob. The caller owns the
// returned reader and must close it.
func (c *Catalog) DownloadFile(ctx context.Context, id string) (io.ReadCloser, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/files/%s?supportsAllDrives=true&supportsTeamDrives=true&alt=media", c.cfg.APIBaseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrRemoteQuery, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordRemoteRequest("download", "error")
		return nil, fmt.Errorf("%w: %v", ErrRemoteQuery, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		metrics.RecordRemoteRequest("download", "error")
		return nil, fmt.Errorf("%w: download returned status %d", ErrRemoteQuery, resp.StatusCode)
	}

	metrics.RecordRemoteRequest("download", "ok")
	return resp.Body, nil
}

// getJSON performs an authorized GET, retrying transport errors but not API
// rejections, and returns the raw body.
func (c *Catalog) getJSON(ctx context.Context, operation, reqURL string) ([]byte, error) {
	return retry.DoWithResult(ctx, c.cfg.Retry, func() ([]byte, error) {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: create request: %v", ErrRemoteQuery, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordRemoteRequest(operation, "error")
			return nil, retry.Retryable(fmt.Errorf("%w: %v", ErrRemoteQuery, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			metrics.RecordRemoteRequest(operation, "error")
			return nil, fmt.Errorf("%w: %s returned status %d", ErrRemoteQuery, operation, resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			metrics.RecordRemoteRequest(operation, "error")
			return nil, retry.Retryable(fmt.Errorf("%w: read body: %v", ErrRemoteQuery, err))
		}

		metrics.RecordRemoteRequest(operation, "ok")
		return body, nil
	})
}
