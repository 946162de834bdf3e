package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"

	video_fetcher "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/internal/process"
	"github.com/alanbriolat/video-fetcher/internal/pubsub"
	"github.com/alanbriolat/video-fetcher/internal/tool"
)

type staticResolver string

func (r staticResolver) Resolve(context.Context) (tool.ResolvedTool, error) {
	return tool.ResolvedTool{Path: string(r), Locator: "test"}, nil
}

// forgettingResolver counts how many times it was told its tool is broken.
type forgettingResolver struct {
	staticResolver
	forgotten int
}

func (r *forgettingResolver) Forget() {
	r.forgotten++
}

type failingResolver struct{}

func (failingResolver) Resolve(context.Context) (tool.ResolvedTool, error) {
	return tool.ResolvedTool{}, video_fetcher.ErrToolUnavailable
}

// fakeTool writes a shell script standing in for yt-dlp. The script can find the test's scratch directory in $FAKE_DIR.
func fakeTool(t *testing.T, body string) (Config, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "yt-dlp")
	script := "#!/bin/sh\nprintf '%s\\n' \"$@\" > \"$FAKE_DIR/args\"\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	config := Config{
		Resolver:         staticResolver(path),
		DefaultOutputDir: filepath.Join(dir, "downloads"),
		Database:         NewMemoryDatabase(),
		ProcessOptions:   []process.Option{process.WithEnv("FAKE_DIR=" + dir)},
	}
	return config, dir
}

const downloadScript = `
out="$FAKE_DIR/downloads/clip-20240101.mp4"
echo "[youtube] abc: Downloading webpage"
echo "[download] Destination: $out"
echo "[download]  10.0% of 1.00MiB at 1.00MiB/s ETA 00:09"
echo "[download]  55.5% of 1.00MiB at 2.50MiB/s ETA 00:02"
echo "[download] 100% of 1.00MiB in 00:01"
echo "video data" > "$out"
`

func newSession(t *testing.T, config Config) *Session {
	t.Helper()
	s, err := New(config, context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

// untilFinished collects events up to and including the next DownloadFinished.
func untilFinished(t *testing.T, sub pubsub.Receiver[Event]) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case e, ok := <-sub.Receive():
			if !ok {
				return events
			}
			events = append(events, e)
			if _, ok := e.(DownloadFinished); ok {
				return events
			}
		case <-timeout:
			t.Fatal("timed out waiting for download-finished")
			return nil
		}
	}
}

func TestStartDownload(t *testing.T) {
	assert := assert_.New(t)
	config, dir := fakeTool(t, downloadScript)
	s := newSession(t, config)
	sub, err := s.Subscribe()
	if !assert.Nil(err) {
		return
	}

	req := video_fetcher.NewDownloadRequest("https://example.com/watch?v=abc", "mp4", "normal", "")
	result, err := s.StartDownload(context.Background(), req)
	assert.Nil(err)
	assert.Equal(CompletedMessage, result)

	filename := filepath.Join(dir, "downloads", "clip-20240101.mp4")
	assert.Equal(video_fetcher.ProgressSnapshot{
		Percentage: 100,
		Speed:      "2.50MiB/s",
		ETA:        "00:02",
		Filename:   filename,
	}, s.GetProgress())

	args, err := os.ReadFile(filepath.Join(dir, "args"))
	assert.Nil(err)
	lines := strings.Split(strings.TrimSpace(string(args)), "\n")
	assert.Equal("https://example.com/watch?v=abc", lines[0])
	assert.Contains(lines, "bv*[height<=720][ext=mp4]+ba[ext=m4a]/b[height<=720][ext=mp4]")
	assert.Contains(lines, filepath.Join(dir, "downloads", "%(title)s-%(upload_date)s.%(ext)s"))

	events := untilFinished(t, sub)
	if assert.Len(events, 6) {
		started := events[0].(DownloadStarted)
		assert.Equal(DownloadStatusRunning, started.Record.Status)
		for _, e := range events[1:5] {
			assert.Equal(TopicDownloadProgress, e.Topic())
			assert.Equal(started.Record.ID, e.(DownloadProgress).ID)
		}
		assert.Equal(filename, events[1].(DownloadProgress).Snapshot.Filename)
		assert.Equal(55.5, events[3].(DownloadProgress).Snapshot.Percentage)
		assert.Equal(s.GetProgress(), events[4].Payload())
		finished := events[5].(DownloadFinished)
		assert.Nil(finished.Err)
		assert.Equal(started.Record.ID, finished.Record.ID)
	}

	history, err := s.History()
	assert.Nil(err)
	if assert.Len(history, 1) {
		assert.Equal(DownloadStatusComplete, history[0].Status)
		assert.Equal(filename, history[0].Filename)
		assert.Equal("clip-20240101", history[0].Title)
		assert.Equal(filepath.Join(dir, "downloads"), history[0].OutputDir)
		assert.False(history[0].FinishedAt.IsZero())
	}
}

func TestStartDownload_Audio(t *testing.T) {
	assert := assert_.New(t)
	config, dir := fakeTool(t, `echo "[ExtractAudio] Destination: $FAKE_DIR/song.mp3"`)
	s := newSession(t, config)
	target := filepath.Join(dir, "music")

	_, err := s.StartDownload(context.Background(), video_fetcher.NewDownloadRequest("u", "mp3", "best", target))
	assert.Nil(err)
	assert.Equal(filepath.Join(dir, "song.mp3"), s.GetProgress().Filename)
	assert.Equal(0.0, s.GetProgress().Percentage)

	args, err := os.ReadFile(filepath.Join(dir, "args"))
	assert.Nil(err)
	assert.Contains(string(args), "--extract-audio\n--audio-format\nmp3\n--audio-quality\n0\n")
	// The requested directory is used verbatim, and created
	info, err := os.Stat(target)
	if assert.Nil(err) {
		assert.True(info.IsDir())
	}
}

func TestStartDownload_ResetsProgress(t *testing.T) {
	assert := assert_.New(t)
	config, _ := fakeTool(t, `if [ -f "$FAKE_DIR/second" ]; then echo "[youtube] nothing"; else touch "$FAKE_DIR/second"; echo "[download]  50.0% of 1MiB"; fi`)
	s := newSession(t, config)
	req := video_fetcher.NewDownloadRequest("u", "", "", "")

	_, err := s.StartDownload(context.Background(), req)
	assert.Nil(err)
	assert.Equal(50.0, s.GetProgress().Percentage)
	_, err = s.StartDownload(context.Background(), req)
	assert.Nil(err)
	assert.True(s.GetProgress().IsZero())
}

func TestStartDownload_InvalidRequest(t *testing.T) {
	assert := assert_.New(t)
	config, dir := fakeTool(t, `echo "[download] 1% of 1MiB"`)
	s := newSession(t, config)

	for _, url := range []string{"", "   ", "--exec=rm"} {
		_, err := s.StartDownload(context.Background(), video_fetcher.NewDownloadRequest(url, "mp4", "best", ""))
		assert.ErrorIs(err, video_fetcher.ErrInvalidRequest)
	}
	// The tool never ran
	_, err := os.Stat(filepath.Join(dir, "args"))
	assert.True(errors.Is(err, os.ErrNotExist))
	history, err := s.History()
	assert.Nil(err)
	assert.Empty(history)
}

func TestStartDownload_ProcessFailure(t *testing.T) {
	assert := assert_.New(t)
	config, _ := fakeTool(t, `echo "[download]  20.0% of 1MiB"; echo "ERROR: unavailable" >&2; exit 2`)
	s := newSession(t, config)
	sub, _ := s.Subscribe(TopicDownloadFinished)

	_, err := s.StartDownload(context.Background(), video_fetcher.NewDownloadRequest("u", "", "", ""))
	assert.ErrorIs(err, video_fetcher.ErrProcessFailure)
	var status *video_fetcher.ExitStatusError
	if assert.ErrorAs(err, &status) {
		assert.Equal(2, status.Code)
	}
	// Progress made before the failure is kept
	assert.Equal(20.0, s.GetProgress().Percentage)

	events := untilFinished(t, sub)
	if assert.Len(events, 1) {
		finished := events[0].(DownloadFinished)
		assert.ErrorIs(finished.Err, video_fetcher.ErrProcessFailure)
		assert.Equal(DownloadStatusFailed, finished.Record.Status)
		assert.NotEmpty(finished.Record.Error)
	}
}

func TestStartDownload_ToolUnavailable(t *testing.T) {
	assert := assert_.New(t)
	config, _ := fakeTool(t, "")
	config.Resolver = failingResolver{}
	s := newSession(t, config)

	_, err := s.StartDownload(context.Background(), video_fetcher.NewDownloadRequest("u", "", "", ""))
	assert.ErrorIs(err, video_fetcher.ErrToolUnavailable)
	history, _ := s.History()
	if assert.Len(history, 1) {
		assert.Equal(DownloadStatusFailed, history[0].Status)
	}
}

func TestStartDownload_SpawnFailure(t *testing.T) {
	assert := assert_.New(t)
	config, dir := fakeTool(t, "")
	resolver := &forgettingResolver{staticResolver: staticResolver(filepath.Join(dir, "missing"))}
	config.Resolver = resolver
	s := newSession(t, config)

	_, err := s.StartDownload(context.Background(), video_fetcher.NewDownloadRequest("u", "", "", ""))
	assert.ErrorIs(err, video_fetcher.ErrSpawnFailure)
	assert.Equal(1, resolver.forgotten)
	assert.True(s.GetProgress().IsZero())
}

func TestStartDownload_DirectoryFailure(t *testing.T) {
	assert := assert_.New(t)
	config, dir := fakeTool(t, "")
	blocker := filepath.Join(dir, "blocker")
	assert.Nil(os.WriteFile(blocker, nil, 0644))
	s := newSession(t, config)

	_, err := s.StartDownload(context.Background(), video_fetcher.NewDownloadRequest("u", "", "", filepath.Join(blocker, "sub")))
	assert.ErrorIs(err, video_fetcher.ErrDirectoryFailure)
}

func TestStartDownload_InProgress(t *testing.T) {
	assert := assert_.New(t)
	config, _ := fakeTool(t, `echo "[download]   1.0% of 1MiB"; sleep 30`)
	s := newSession(t, config)
	sub, _ := s.Subscribe(TopicDownloadProgress)
	req := video_fetcher.NewDownloadRequest("u", "", "", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = s.StartDownload(ctx, req)
	}()

	select {
	case <-sub.Receive():
	case <-time.After(10 * time.Second):
		assert.Fail("first download never made progress")
		return
	}
	_, err := s.StartDownload(context.Background(), req)
	assert.ErrorIs(err, video_fetcher.ErrDownloadInProgress)

	// Concurrent readers are fine while the download runs
	assert.Equal(1.0, s.GetProgress().Percentage)

	cancel()
	wg.Wait()
	assert.ErrorIs(firstErr, video_fetcher.ErrProcessFailure)
	assert.ErrorIs(firstErr, context.Canceled)
}

func TestGetProgress_Idempotent(t *testing.T) {
	assert := assert_.New(t)
	config, _ := fakeTool(t, downloadScript)
	s := newSession(t, config)
	assert.True(s.GetProgress().IsZero())
	_, err := s.StartDownload(context.Background(), video_fetcher.NewDownloadRequest("u", "", "", ""))
	assert.Nil(err)
	first := s.GetProgress()
	for i := 0; i < 10; i++ {
		assert.Equal(first, s.GetProgress())
	}
}

func TestCancelDownload(t *testing.T) {
	assert := assert_.New(t)
	s := newSession(t, Config{Resolver: failingResolver{}})
	assert.Nil(s.CancelDownload())
	assert.True(s.GetProgress().IsZero())
}

func TestListFormats(t *testing.T) {
	assert := assert_.New(t)
	config, dir := fakeTool(t, `echo "ID  EXT   RESOLUTION"; echo "18  mp4   640x360"`)
	s := newSession(t, config)

	out, err := s.ListFormats(context.Background(), "https://example.com/v")
	assert.Nil(err)
	assert.Equal("ID  EXT   RESOLUTION\n18  mp4   640x360\n", out)
	args, _ := os.ReadFile(filepath.Join(dir, "args"))
	assert.Equal("--list-formats\nhttps://example.com/v\n", string(args))

	_, err = s.ListFormats(context.Background(), "")
	assert.ErrorIs(err, video_fetcher.ErrInvalidRequest)
}

func TestListFormats_Failure(t *testing.T) {
	assert := assert_.New(t)
	config, _ := fakeTool(t, `echo "ERROR: Unsupported URL" >&2; exit 1`)
	s := newSession(t, config)

	_, err := s.ListFormats(context.Background(), "https://example.com/v")
	assert.ErrorIs(err, video_fetcher.ErrFormatListFailure)
	assert.ErrorIs(err, video_fetcher.ErrProcessFailure)
}

func TestNew_FailsInterrupted(t *testing.T) {
	assert := assert_.New(t)
	db := NewMemoryDatabase()
	stale := newDownloadRecord(video_fetcher.NewDownloadRequest("u", "", "", ""))
	assert.Nil(db.WriteDownload(&stale))

	s := newSession(t, Config{Resolver: failingResolver{}, Database: db})
	history, err := s.History()
	assert.Nil(err)
	if assert.Len(history, 1) {
		assert.Equal(DownloadStatusFailed, history[0].Status)
		assert.Equal(errInterrupted.Error(), history[0].Error)
	}

	assert.Nil(s.DeleteHistory(stale.ID))
	history, _ = s.History()
	assert.Empty(history)
	assert.ErrorIs(s.DeleteHistory(stale.ID), video_fetcher.ErrUnknownDownload)
}

func TestSubscribe_AfterClose(t *testing.T) {
	assert := assert_.New(t)
	s, err := New(Config{Resolver: failingResolver{}}, context.Background())
	assert.Nil(err)
	sub, err := s.Subscribe()
	assert.Nil(err)
	s.Close()
	_, ok := <-sub.Receive()
	assert.False(ok)
	_, err = s.Subscribe()
	assert.ErrorIs(err, pubsub.ErrPublisherClosed)
}

func TestHistory_Order(t *testing.T) {
	assert := assert_.New(t)
	db := NewMemoryDatabase()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, url := range []string{"a", "b", "c"} {
		r := DownloadRecord{ID: NewDownloadID(), URL: url, Status: DownloadStatusComplete, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		assert.Nil(db.WriteDownload(&r))
	}
	s := newSession(t, Config{Resolver: failingResolver{}, Database: db})
	history, err := s.History()
	assert.Nil(err)
	var urls []string
	for _, r := range history {
		urls = append(urls, r.URL)
	}
	assert.Equal([]string{"c", "b", "a"}, urls)
}

// Prints 400 progress lines, percentage rising from 0 to 100.
const manyLinesScript = `
i=1
while [ $i -le 400 ]; do
	echo "[download] $((i / 4)).0% of 1.00MiB at 1.00MiB/s ETA 00:01"
	i=$((i + 1))
done
`

func TestStartDownload_StalledSubscriber(t *testing.T) {
	assert := assert_.New(t)
	config, _ := fakeTool(t, manyLinesScript)
	s := newSession(t, config)
	// Neither of these is ever received from while the download runs
	progressOnly, err := s.Subscribe(TopicDownloadProgress)
	assert.Nil(err)
	everything, err := s.Subscribe()
	assert.Nil(err)

	result := make(chan error, 1)
	go func() {
		_, err := s.StartDownload(context.Background(), video_fetcher.NewDownloadRequest("u", "", "", ""))
		result <- err
	}()

	read := make(chan video_fetcher.ProgressSnapshot, 1)
	go func() { read <- s.GetProgress() }()
	select {
	case <-read:
	case <-time.After(2 * time.Second):
		assert.Fail("GetProgress blocked while a subscriber stalled")
	}

	select {
	case err := <-result:
		assert.Nil(err)
	case <-time.After(10 * time.Second):
		assert.Fail("download blocked while a subscriber stalled")
		return
	}
	assert.Equal(100.0, s.GetProgress().Percentage)

	// Missing download-finished is worse than missing progress, so that subscriber was closed instead
	var events []Event
	for e := range everything.Receive() {
		events = append(events, e)
	}
	if assert.NotEmpty(events) {
		assert.IsType(DownloadStarted{}, events[0])
	}
	for _, e := range events {
		assert.NotEqual(TopicDownloadFinished, e.Topic())
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		s.Close()
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		assert.Fail("Close blocked while a subscriber stalled")
	}
	<-progressOnly.Closed()
}

func TestGetProgress_DuringDownload(t *testing.T) {
	assert := assert_.New(t)
	config, _ := fakeTool(t, manyLinesScript)
	s := newSession(t, config)

	done := make(chan struct{})
	var readings []video_fetcher.ProgressSnapshot
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				readings = append(readings, s.GetProgress())
				time.Sleep(100 * time.Microsecond)
			}
		}
	}()

	_, err := s.StartDownload(context.Background(), video_fetcher.NewDownloadRequest("u", "", "", ""))
	close(done)
	wg.Wait()
	assert.Nil(err)

	last := 0.0
	for _, snapshot := range readings {
		assert.GreaterOrEqual(snapshot.Percentage, last)
		assert.LessOrEqual(snapshot.Percentage, 100.0)
		if !snapshot.IsZero() {
			assert.Equal("1.00MiB/s", snapshot.Speed)
		}
		last = snapshot.Percentage
	}
	assert.Equal(100.0, s.GetProgress().Percentage)
}

func TestStartDownload_TrimsURL(t *testing.T) {
	assert := assert_.New(t)
	config, dir := fakeTool(t, downloadScript)
	s := newSession(t, config)

	req := video_fetcher.DownloadRequest{URL: "  https://example.com/watch?v=abc\n", Format: video_fetcher.FormatVideo}
	_, err := s.StartDownload(context.Background(), req)
	assert.Nil(err)
	args, err := os.ReadFile(filepath.Join(dir, "args"))
	assert.Nil(err)
	assert.Equal("https://example.com/watch?v=abc", strings.Split(string(args), "\n")[0])

	history, _ := s.History()
	if assert.Len(history, 1) {
		assert.Equal("https://example.com/watch?v=abc", history[0].URL)
	}

	// Only whitespace is still an empty URL
	_, err = s.StartDownload(context.Background(), video_fetcher.DownloadRequest{URL: " \t"})
	assert.ErrorIs(err, video_fetcher.ErrInvalidRequest)
}
