// Package media reads descriptive metadata from downloaded files.
package media

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"go.uber.org/zap"
)

type Metadata struct {
	Title string
}

// Read parses the tags embedded in the file at path (ID3, MP4 atoms, FLAC, Ogg).
func Read(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer f.Close()
	m, err := tag.ReadFrom(f)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Title: strings.TrimSpace(m.Title()),
	}, nil
}

// Title is the embedded title of the file at path, falling back to its name without extension.
func Title(path string) string {
	if path == "" {
		return ""
	}
	if m, err := Read(path); err == nil && m.Title != "" {
		return m.Title
	} else if err != nil {
		zap.S().Named("media").Debugf("no tags in %v: %v", path, err)
	}
	return TitleFromPath(path)
}

func TitleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
}
