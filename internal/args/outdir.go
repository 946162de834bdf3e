package args

import (
	"fmt"
	"os"

	"github.com/adrg/xdg"

	video_fetcher "github.com/alanbriolat/video-fetcher"
)

type outputDirConfig struct {
	defaultDir string
}

type OutputDirOption func(*outputDirConfig)

// WithDefaultDir replaces the platform downloads directory as the fallback.
func WithDefaultDir(dir string) OutputDirOption {
	return func(c *outputDirConfig) {
		c.defaultDir = dir
	}
}

// OutputDir decides where a download goes: requested verbatim if set, otherwise the default directory. The directory
// is created, including parents, if it doesn't exist.
func OutputDir(requested string, opts ...OutputDirOption) (string, error) {
	config := outputDirConfig{
		defaultDir: xdg.UserDirs.Download,
	}
	for _, opt := range opts {
		opt(&config)
	}
	dir := requested
	if dir == "" {
		dir = config.defaultDir
	}
	if dir == "" {
		return "", fmt.Errorf("%w: no downloads directory", video_fetcher.ErrDirectoryFailure)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: %w", video_fetcher.ErrDirectoryFailure, err)
	}
	return dir, nil
}
