package video_fetcher

import (
	"errors"
	"fmt"
)

var (
	// ErrToolUnavailable covers every way of failing to find or install the download tool.
	ErrToolUnavailable = errors.New("download tool unavailable")
	ErrSpawnFailure    = errors.New("failed to start download tool")
	ErrOutputCapture   = errors.New("failed to capture download tool output")
	// ErrProcessFailure is returned for a non-zero exit, wrapping an *ExitStatusError.
	ErrProcessFailure    = errors.New("download tool failed")
	ErrDirectoryFailure  = errors.New("output directory unavailable")
	ErrFormatListFailure = errors.New("failed to list formats")

	ErrInvalidRequest     = errors.New("invalid download request")
	ErrDownloadInProgress = errors.New("a download is already in progress")
	ErrUnknownDownload    = errors.New("unknown download")
)

// ExitStatusError records how the download tool exited.
type ExitStatusError struct {
	Code int
	Err  error
}

func (e *ExitStatusError) Error() string {
	if e.Code < 0 {
		// Killed by a signal, or the status is otherwise unknown
		return fmt.Sprintf("process exited abnormally: %v", e.Err)
	}
	return fmt.Sprintf("process exited with status %d", e.Code)
}

func (e *ExitStatusError) Unwrap() error {
	return e.Err
}
