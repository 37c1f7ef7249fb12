package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/drivetools/drivesync/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const hashTagFilename = "uploader_id.hash"

// LoadOrCreateHashTag returns the installation's upload hash tag, generating
// and persisting a fresh one on first use. The tag is embedded in every
// uploaded filename so re-uploads from the same installation update the
// existing remote item instead of duplicating it.
func LoadOrCreateHashTag(dataDir string) (string, error) {
	path := filepath.Join(dataDir, hashTagFilename)

	data, err := os.ReadFile(path)
	if err == nil {
		tag := strings.TrimSpace(string(data))
		if tag != "" {
			return tag, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read hash tag: %w", err)
	}

	tag := uuid.NewString()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(tag), 0o644); err != nil {
		return "", fmt.Errorf("persist hash tag: %w", err)
	}

	logging.Info("generated new installation hash tag", zap.String("path", path))
	return tag, nil
}
