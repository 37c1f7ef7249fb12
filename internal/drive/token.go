package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/drivetools/drivesync/internal/logging"
	"github.com/drivetools/drivesync/internal/metrics"
	"go.uber.org/zap"
)

// The server issues tokens with a 60-minute TTL. Refreshing 5 minutes early
// keeps a request from going out with a token that expires mid-flight.
const (
	tokenTTL          = time.Hour
	tokenRefreshSlack = 5 * time.Minute
)

// TokenConfig holds the OAuth2 refresh-token grant parameters.
type TokenConfig struct {
	TokenURL     string
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// TokenSource obtains and caches a bearer access token via the OAuth2
// refresh-token grant. The cached token is reused without a network call
// while it is inside the refresh window. Both transfer flows share one
// TokenSource; they issue requests one at a time, so a plain field cache
// is sufficient.
type TokenSource struct {
	cfg        TokenConfig
	httpClient *http.Client

	token      string
	obtainedAt time.Time
	now        func() time.Time
}

// NewTokenSource creates a TokenSource for the given grant parameters.
func NewTokenSource(cfg TokenConfig) *TokenSource {
	return &TokenSource{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
}

// Token returns a valid bearer token, refreshing it if the cached one is
// absent or older than the reuse window. Returns ErrAuth if the refresh
// call fails or no access token can be parsed from the response.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	if ts.token != "" && ts.now().Sub(ts.obtainedAt) < tokenTTL-tokenRefreshSlack {
		return ts.token, nil
	}

	logging.Debug("requesting new access token", zap.String("token_url", ts.cfg.TokenURL))

	form := url.Values{}
	form.Set("refresh_token", ts.cfg.RefreshToken)
	form.Set("client_id", ts.cfg.ClientID)
	form.Set("client_secret", ts.cfg.ClientSecret)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		metrics.RecordTokenRefresh("error")
		return "", fmt.Errorf("%w: create request: %v", ErrAuth, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		metrics.RecordTokenRefresh("error")
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordTokenRefresh("error")
		return "", fmt.Errorf("%w: token endpoint returned status %d", ErrAuth, resp.StatusCode)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.RecordTokenRefresh("error")
		return "", fmt.Errorf("%w: decode token response: %v", ErrAuth, err)
	}
	if parsed.AccessToken == "" {
		metrics.RecordTokenRefresh("error")
		return "", fmt.Errorf("%w: token response carried no access_token", ErrAuth)
	}

	ts.token = parsed.AccessToken
	ts.obtainedAt = ts.now()
	metrics.RecordTokenRefresh("ok")
	logging.Info("received new access token")

	return ts.token, nil
}
