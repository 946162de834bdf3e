package session

import video_fetcher "github.com/alanbriolat/video-fetcher"

const (
	TopicDownloadProgress = "download-progress"
	TopicDownloadStarted  = "download-started"
	TopicDownloadFinished = "download-finished"
)

type Event interface {
	// Topic is the name subscribers filter on.
	Topic() string
	// Payload is what a client sees for this event.
	Payload() any
}

// DownloadProgress carries the complete snapshot after every update.
type DownloadProgress struct {
	ID       DownloadID
	Snapshot video_fetcher.ProgressSnapshot
}

func (e DownloadProgress) Topic() string { return TopicDownloadProgress }
func (e DownloadProgress) Payload() any  { return e.Snapshot }

func isProgressEvent(e Event) bool {
	return e.Topic() == TopicDownloadProgress
}

type DownloadStarted struct {
	Record DownloadRecord
}

func (e DownloadStarted) Topic() string { return TopicDownloadStarted }
func (e DownloadStarted) Payload() any  { return e.Record }

// DownloadFinished is sent exactly once for every DownloadStarted, whether or not the download succeeded.
type DownloadFinished struct {
	Record DownloadRecord
	Err    error
}

func (e DownloadFinished) Topic() string { return TopicDownloadFinished }
func (e DownloadFinished) Payload() any  { return e.Record }
