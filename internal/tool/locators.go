package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/adrg/xdg"
	"go.uber.org/zap"

	video_fetcher "github.com/alanbriolat/video-fetcher"
)

const (
	ToolName          = "yt-dlp"
	DefaultReleaseURL = "https://github.com/yt-dlp/yt-dlp/releases/latest/download/"

	LocatorPath     = "path"
	LocatorLocal    = "local"
	LocatorDownload = "download"
)

var (
	ErrCreateDir   = errors.New("failed to create tool directory")
	ErrNetwork     = errors.New("failed to fetch tool release")
	ErrHTTPStatus  = errors.New("unexpected HTTP status fetching tool release")
	ErrWrite       = errors.New("failed to write tool executable")
	ErrPermissions = errors.New("failed to make tool executable")
)

type Config struct {
	// LookPath searches the executable search path, exec.LookPath unless overridden.
	LookPath func(file string) (string, error)
	// LocalDir holds the private copy of the tool.
	LocalDir string
	// ReleaseURL is the base URL that release assets are fetched from.
	ReleaseURL string
	// GOOS decides the executable and release asset names.
	GOOS       string
	HTTPClient *http.Client
}

func DefaultConfig() Config {
	return Config{
		LookPath:   exec.LookPath,
		LocalDir:   filepath.Join(xdg.DataHome, "ytdlp"),
		ReleaseURL: DefaultReleaseURL,
		GOOS:       runtime.GOOS,
		HTTPClient: http.DefaultClient,
	}
}

// ExecutableName is the file name of the tool on goos.
func ExecutableName(goos string) string {
	if goos == "windows" {
		return ToolName + ".exe"
	}
	return ToolName
}

// AssetName is the name of the release asset built for goos.
func AssetName(goos string) string {
	switch goos {
	case "windows":
		return "yt-dlp.exe"
	case "darwin":
		return "yt-dlp_macos"
	default:
		return "yt-dlp"
	}
}

func (c Config) localPath() string {
	return filepath.Join(c.LocalDir, ExecutableName(c.GOOS))
}

func (c Config) assetURL() string {
	base := c.ReleaseURL
	if base == "" {
		base = DefaultReleaseURL
	}
	if base[len(base)-1] != '/' {
		base += "/"
	}
	return base + AssetName(c.GOOS)
}

// NewRegistry creates the standard chain: the search path, then a previously installed private copy, then installing
// a private copy.
func NewRegistry(config Config) *Registry {
	r := &Registry{}
	r.MustCreatePriority(LocatorPath, PathLocator(config), -100)
	r.MustCreatePriority(LocatorLocal, LocalLocator(config), PriorityDefault)
	r.MustCreatePriority(LocatorDownload, DownloadLocator(config), 100)
	return r
}

// PathLocator finds the tool on the executable search path. It never touches the filesystem or network otherwise.
func PathLocator(config Config) LocateFunc {
	lookPath := config.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	return func(ctx context.Context) (string, error) {
		path, err := lookPath(ToolName)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return path, nil
	}
}

// LocalLocator finds a private copy of the tool, creating the directory that holds it.
func LocalLocator(config Config) LocateFunc {
	return func(ctx context.Context) (string, error) {
		if err := os.MkdirAll(config.LocalDir, 0755); err != nil {
			return "", fmt.Errorf("%w %v: %w", ErrCreateDir, config.LocalDir, err)
		}
		path := config.localPath()
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: no file at %v", ErrNotFound, path)
		} else if err != nil {
			return "", err
		}
		return path, nil
	}
}

// DownloadLocator installs the latest release as the private copy. The file only appears at its final path once it
// is complete.
func DownloadLocator(config Config) LocateFunc {
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (string, error) {
		log := zap.S().Named("tool")
		if err := os.MkdirAll(config.LocalDir, 0755); err != nil {
			return "", fmt.Errorf("%w %v: %w", ErrCreateDir, config.LocalDir, err)
		}
		url := config.assetURL()
		log.Infof("installing %v from %v", ToolName, url)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrNetwork, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrNetwork, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return "", fmt.Errorf("%w: %v from %v", ErrHTTPStatus, resp.Status, url)
		}

		path := config.localPath()
		if err := writeExecutable(ctx, path, resp.Body, config.GOOS); err != nil {
			return "", err
		}
		log.Infof("installed %v at %v", ToolName, path)
		return path, nil
	}
}

func writeExecutable(ctx context.Context, path string, r io.Reader, goos string) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.part")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()
	if _, err = io.Copy(f, video_fetcher.NewContextReader(ctx, r)); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if goos != "windows" {
		if err = os.Chmod(f.Name(), 0755); err != nil {
			return fmt.Errorf("%w: %w", ErrPermissions, err)
		}
	}
	if err = os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}
