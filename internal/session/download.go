package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	video_fetcher "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/internal/args"
	"github.com/alanbriolat/video-fetcher/internal/media"
	"github.com/alanbriolat/video-fetcher/internal/process"
)

var errInterrupted = errors.New("interrupted before finishing")

type forgetter interface {
	Forget()
}

// StartDownload runs one download to completion, blocking until the tool exits. Progress is available from
// GetProgress and the download-progress topic while it runs. Cancelling ctx kills the tool.
func (s *Session) StartDownload(ctx context.Context, req video_fetcher.DownloadRequest) (string, error) {
	req = req.Normalized()
	if err := req.Validate(); err != nil {
		return "", err
	}
	if err := s.acquire(); err != nil {
		return "", err
	}
	defer s.release()

	ctx, cancel := s.downloadContext(ctx)
	defer cancel()

	record := newDownloadRecord(req)
	log := zap.S().Named("download").With("download_id", record.ID)
	s.progress.Reset()
	s.active.Set(record.ID)
	s.writeRecord(log, &record)
	log.Infof("download started: %v", record)
	s.events.Send(DownloadStarted{record})

	err := s.download(ctx, log, req, &record)

	if filename := s.progress.Current().Filename; filename != "" {
		record.Filename = filename
		record.Title = media.Title(s.resolveFilename(&record))
	}
	record.finish(err)
	s.writeRecord(log, &record)
	if err != nil {
		log.Warnf("download failed: %v", err)
	} else {
		log.Infof("download complete: %v", record)
	}
	s.events.Send(DownloadFinished{Record: record, Err: err})
	if err != nil {
		return "", err
	}
	return CompletedMessage, nil
}

func (s *Session) download(ctx context.Context, log *zap.SugaredLogger, req video_fetcher.DownloadRequest, record *DownloadRecord) error {
	resolved, err := s.config.Resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	log.Debugw("using tool", "path", resolved.Path, "locator", resolved.Locator)

	var dirOpts []args.OutputDirOption
	if s.config.DefaultOutputDir != "" {
		dirOpts = append(dirOpts, args.WithDefaultDir(s.config.DefaultOutputDir))
	}
	dir, err := args.OutputDir(req.OutputDir, dirOpts...)
	if err != nil {
		return err
	}
	record.OutputDir = dir

	p, err := process.Start(ctx, resolved.Path, args.Build(req, dir), s.config.ProcessOptions...)
	if err != nil {
		if f, ok := s.config.Resolver.(forgetter); ok && errors.Is(err, video_fetcher.ErrSpawnFailure) {
			// Resolve again next time rather than keep trying a broken executable
			f.Forget()
		}
		return err
	}
	for line := range p.Lines() {
		s.progress.ApplyLine(line)
	}
	return p.Wait()
}

func (s *Session) acquire() error {
	return s.active.Locked(func(id *DownloadID) error {
		if *id != "" {
			return fmt.Errorf("%w: %v", video_fetcher.ErrDownloadInProgress, *id)
		}
		// Placeholder until the record exists
		*id = "pending"
		return nil
	})
}

func (s *Session) release() {
	s.active.Set("")
}

func (s *Session) resolveFilename(record *DownloadRecord) string {
	if filepath.IsAbs(record.Filename) || record.OutputDir == "" {
		return record.Filename
	}
	return filepath.Join(record.OutputDir, record.Filename)
}

func (s *Session) writeRecord(log *zap.SugaredLogger, record *DownloadRecord) {
	if err := s.config.Database.WriteDownload(record); err != nil {
		log.Errorf("failed to record download: %v", err)
	}
}
