package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	video_fetcher "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/generic"
)

type DownloadID string

func NewDownloadID() DownloadID {
	return DownloadID(generic.Unwrap(uuid.NewRandom()).String())
}

type DownloadStatus string

const (
	DownloadStatusUndefined DownloadStatus = ""
	DownloadStatusRunning   DownloadStatus = "running"
	DownloadStatusComplete  DownloadStatus = "complete"
	DownloadStatusFailed    DownloadStatus = "failed"
)

var runningStatuses = generic.NewSet(
	DownloadStatusRunning,
)

// IsRunning returns true if the status is one where a tool process should still be working on the download.
func (s DownloadStatus) IsRunning() bool {
	return runningStatuses.Contains(s)
}

// A DownloadRecord is the history entry for one StartDownload.
type DownloadRecord struct {
	ID        DownloadID            `json:"id"`
	URL       string                `json:"url"`
	Format    video_fetcher.Format  `json:"format"`
	Quality   video_fetcher.Quality `json:"quality"`
	OutputDir string                `json:"output_dir"`
	// Filename is the last destination the tool reported, and Title the media's own title if it has one.
	Filename   string         `json:"filename"`
	Title      string         `json:"title"`
	Status     DownloadStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at,omitzero"`
}

func newDownloadRecord(req video_fetcher.DownloadRequest) DownloadRecord {
	return DownloadRecord{
		ID:        NewDownloadID(),
		URL:       req.URL,
		Format:    req.Format,
		Quality:   req.Quality,
		OutputDir: req.OutputDir,
		Status:    DownloadStatusRunning,
		StartedAt: time.Now(),
	}
}

func (r DownloadRecord) String() string {
	return fmt.Sprintf("DownloadRecord{ID:\"%s\", URL:\"%s\", Status:\"%s\"}", r.ID, r.URL, r.Status)
}

// Duration is how long the download ran, or has been running.
func (r DownloadRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *DownloadRecord) finish(err error) {
	r.FinishedAt = time.Now()
	if err != nil {
		r.Status = DownloadStatusFailed
		r.Error = err.Error()
	} else {
		r.Status = DownloadStatusComplete
		r.Error = ""
	}
}
