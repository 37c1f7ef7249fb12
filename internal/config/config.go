// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

const (
	defaultTokenURL      = "https://oauth2.googleapis.com/token"
	defaultAPIBaseURL    = "https://www.googleapis.com/drive/v3"
	defaultUploadBaseURL = "https://www.googleapis.com/upload/drive/v3"
)

// Config holds all drivesync configuration shared by the tools.
type Config struct {
	// Remote drive
	DriveID            string
	RootFolderID       string
	UploadRootFolderID string

	// OAuth2 refresh-token grant
	RefreshToken string
	ClientID     string
	ClientSecret string
	TokenURL     string

	// API endpoints
	APIBaseURL    string
	UploadBaseURL string

	// Local filesystem
	DownloadRoot string
	DataDir      string

	// Upload policy
	AppVersion      string
	UploadExtension string // "" = extensionless files only, "*" = any

	// Download policy
	MirrorFolders bool

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics (optional; empty disables the listener)
	MetricsAddr string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DriveID:            envOr("DRIVE_ID", ""),
		RootFolderID:       envOr("ROOT_FOLDER_ID", ""),
		UploadRootFolderID: envOr("UPLOAD_ROOT_FOLDER_ID", ""),
		RefreshToken:       envOr("REFRESH_TOKEN", ""),
		ClientID:           envOr("CLIENT_ID", ""),
		ClientSecret:       envOr("CLIENT_SECRET", ""),
		TokenURL:           envOr("TOKEN_URL", defaultTokenURL),
		APIBaseURL:         envOr("API_BASE_URL", defaultAPIBaseURL),
		UploadBaseURL:      envOr("UPLOAD_BASE_URL", defaultUploadBaseURL),
		DownloadRoot:       envOr("DOWNLOAD_ROOT", "."),
		DataDir:            envOr("DATA_DIR", defaultDataDir()),
		AppVersion:         envOr("APP_VERSION", "dev"),
		UploadExtension:    envOr("UPLOAD_EXTENSION", ""),
		MirrorFolders:      envBool("MIRROR_FOLDERS", true),
		LogLevel:           envOr("LOG_LEVEL", "info"),
		LogFormat:          envOr("LOG_FORMAT", "console"),
		MetricsAddr:        envOr("METRICS_ADDR", ""),
	}

	if cfg.DriveID == "" {
		return nil, fmt.Errorf("DRIVE_ID is required")
	}
	if cfg.RefreshToken == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("REFRESH_TOKEN, CLIENT_ID and CLIENT_SECRET are required")
	}

	return cfg, nil
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return dir + string(os.PathSeparator) + "drivesync"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
