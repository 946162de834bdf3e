// Package session drives downloads: it finds the tool, runs it, tracks its progress and keeps the history.
package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	video_fetcher "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/internal/args"
	"github.com/alanbriolat/video-fetcher/internal/process"
	"github.com/alanbriolat/video-fetcher/internal/progress"
	"github.com/alanbriolat/video-fetcher/internal/pubsub"
	sync_ "github.com/alanbriolat/video-fetcher/internal/sync"
	"github.com/alanbriolat/video-fetcher/internal/tool"
)

const (
	CompletedMessage = "Download completed successfully!"

	eventBufSize      = 64
	subscriberBufSize = 64
)

// ToolResolver is satisfied by *tool.Resolver and *tool.Registry.
type ToolResolver interface {
	Resolve(ctx context.Context) (tool.ResolvedTool, error)
}

type Config struct {
	Resolver ToolResolver
	// Used when a request has no OutputDir; empty means the platform downloads directory.
	DefaultOutputDir string
	Database         Database
	ProcessOptions   []process.Option
}

var DefaultConfig = Config{
	Resolver:         tool.NewResolver(tool.NewRegistry(tool.DefaultConfig())),
	DefaultOutputDir: "",
	Database:         NilDatabase{},
}

// A Session owns one progress snapshot, so it runs at most one download at a time.
type Session struct {
	config    Config
	ctx       context.Context
	ctxCancel context.CancelFunc
	log       *zap.SugaredLogger

	progress *progress.Store
	active   *sync_.Mutexed[DownloadID]
	events   pubsub.Publisher[Event]
}

func New(config Config, ctx context.Context) (*Session, error) {
	if config.Resolver == nil {
		config.Resolver = DefaultConfig.Resolver
	}
	if config.Database == nil {
		config.Database = NilDatabase{}
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		config:    config,
		ctx:       ctx,
		ctxCancel: cancel,
		log:       zap.S().Named("session"),

		active: sync_.NewMutexed(DownloadID("")),
		events: pubsub.NewPublisherBufSize[Event](eventBufSize),
	}
	s.progress = progress.NewStore(s.publishProgress)
	if err := s.failInterrupted(); err != nil {
		cancel()
		s.events.Close()
		return nil, err
	}
	return s, nil
}

// Subscribe returns a receiver for events on the named topics, or all events if none are named. A subscriber that
// falls behind misses progress events (GetProgress always has the latest), and is closed if it would miss any other
// event.
func (s *Session) Subscribe(topics ...string) (pubsub.ReceiverCloser[Event], error) {
	ch := pubsub.NewChannel[Event](subscriberBufSize)
	var filter func(Event) bool
	if len(topics) > 0 {
		filter = func(e Event) bool {
			for _, topic := range topics {
				if e.Topic() == topic {
					return true
				}
			}
			return false
		}
	}
	lossy := pubsub.NewLossySender[Event](ch, isProgressEvent)
	if err := s.events.AddSubscriber(pubsub.NewFilteredSender[Event](lossy, filter), true); err != nil {
		return nil, err
	}
	return ch, nil
}

// GetProgress returns the latest snapshot. It has no side effects.
func (s *Session) GetProgress() video_fetcher.ProgressSnapshot {
	return s.progress.Current()
}

// CancelDownload does nothing: a download is stopped by cancelling the context passed to StartDownload.
func (s *Session) CancelDownload() error {
	s.log.Info("cancel requested, downloads are stopped by cancelling their context")
	return nil
}

// ListFormats returns the tool's own listing of the formats available for url.
func (s *Session) ListFormats(ctx context.Context, url string) (string, error) {
	url = strings.TrimSpace(url)
	if err := video_fetcher.ValidateURL(url); err != nil {
		return "", err
	}
	ctx, cancel := s.downloadContext(ctx)
	defer cancel()
	resolved, err := s.config.Resolver.Resolve(ctx)
	if err != nil {
		return "", err
	}
	out, err := process.Output(ctx, resolved.Path, args.ListFormats(url), s.config.ProcessOptions...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", video_fetcher.ErrFormatListFailure, err)
	}
	return out, nil
}

// History returns every recorded download, newest first.
func (s *Session) History() ([]DownloadRecord, error) {
	records, err := s.config.Database.ListDownloads()
	if err != nil {
		return nil, err
	}
	SortNewestFirst(records)
	return records, nil
}

// DeleteHistory removes a finished download from the history.
func (s *Session) DeleteHistory(id DownloadID) error {
	records, err := s.config.Database.ListDownloads()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID != id {
			continue
		}
		if records[i].Status.IsRunning() {
			return fmt.Errorf("%w: %v", video_fetcher.ErrDownloadInProgress, id)
		}
		return s.config.Database.DeleteDownload(&records[i])
	}
	return fmt.Errorf("%w: %v", video_fetcher.ErrUnknownDownload, id)
}

// Close stops any running download and closes all subscribers.
func (s *Session) Close() {
	s.ctxCancel()
	s.events.Close()
}

// downloadContext ends when either ctx or the session does.
func (s *Session) downloadContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// publishProgress runs on the downloading goroutine, after the snapshot is visible to GetProgress.
func (s *Session) publishProgress(snapshot video_fetcher.ProgressSnapshot) {
	s.events.Send(DownloadProgress{ID: s.active.Get(), Snapshot: snapshot})
}

// failInterrupted marks downloads left running by a previous process as failed.
func (s *Session) failInterrupted() error {
	records, err := s.config.Database.ListDownloads()
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	for i := range records {
		if !records[i].Status.IsRunning() {
			continue
		}
		records[i].finish(errInterrupted)
		s.log.Infof("marking interrupted download as failed: %v", records[i])
		if err := s.config.Database.WriteDownload(&records[i]); err != nil {
			return err
		}
	}
	return nil
}
