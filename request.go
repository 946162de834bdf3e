package video_fetcher

import (
	"fmt"
	"strings"
)

// Format is the container the user asked for.
type Format string

const (
	FormatVideo Format = "video"
	FormatAudio Format = "audio"
)

// ParseFormat accepts the values a UI sends ("mp3", "mp4", ...). Anything that isn't an audio format is video.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mp3", "audio":
		return FormatAudio
	default:
		return FormatVideo
	}
}

func (f Format) String() string {
	return string(f)
}

func (f *Format) UnmarshalText(text []byte) error {
	*f = ParseFormat(string(text))
	return nil
}

type Quality string

const (
	QualityUnspecified Quality = ""
	QualityBest        Quality = "best"
	QualityNormal      Quality = "normal"
	QualityCustom      Quality = "custom"
)

func ParseQuality(s string) Quality {
	switch q := Quality(strings.ToLower(strings.TrimSpace(s))); q {
	case QualityBest, QualityNormal, QualityCustom:
		return q
	default:
		return QualityUnspecified
	}
}

func (q Quality) String() string {
	if q == QualityUnspecified {
		return "unspecified"
	}
	return string(q)
}

func (q *Quality) UnmarshalText(text []byte) error {
	*q = ParseQuality(string(text))
	return nil
}

// A DownloadRequest describes one invocation of the download tool. It is not modified after being submitted.
type DownloadRequest struct {
	URL     string  `json:"url"`
	Format  Format  `json:"format"`
	Quality Quality `json:"quality"`
	// Empty means the platform downloads directory.
	OutputDir string `json:"output_dir,omitempty"`
}

// Normalized returns the request as it is validated and passed to the tool.
func (r DownloadRequest) Normalized() DownloadRequest {
	r.URL = strings.TrimSpace(r.URL)
	return r
}

// Validate rejects requests that can never succeed, before any tool resolution or process spawn happens.
func (r DownloadRequest) Validate() error {
	return ValidateURL(r.URL)
}

// ValidateURL is deliberately loose, the tool decides what it can handle. The URL is passed as the first argument so
// it must not be mistaken for an option.
func ValidateURL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidRequest)
	}
	if strings.HasPrefix(s, "-") {
		return fmt.Errorf("%w: URL %q looks like an option", ErrInvalidRequest, s)
	}
	return nil
}

// NewDownloadRequest builds a request from the loosely typed values a UI or CLI supplies.
func NewDownloadRequest(url, format, quality, outputDir string) DownloadRequest {
	return DownloadRequest{
		URL:       strings.TrimSpace(url),
		Format:    ParseFormat(format),
		Quality:   ParseQuality(quality),
		OutputDir: outputDir,
	}
}
