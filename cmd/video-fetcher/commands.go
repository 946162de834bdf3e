package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/r3labs/diff/v3"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	video_fetcher "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/internal/server"
	"github.com/alanbriolat/video-fetcher/internal/session"
	"github.com/alanbriolat/video-fetcher/internal/tool"
)

func downloadCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "download one or more URLs",
		ArgsUsage: "URL...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "mp4",
				Usage:   "`FORMAT` to save as: mp4 (video) or mp3 (audio)",
				EnvVars: env("FORMAT"),
			},
			&cli.StringFlag{
				Name:    "quality",
				Aliases: []string{"q"},
				Usage:   "`QUALITY`: best, normal or custom",
				EnvVars: env("QUALITY"),
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("no URLs given", 1)
			}
			ses, closeSession, err := openSession(ctx, c)
			defer closeSession()
			if err != nil {
				return err
			}
			for _, url := range c.Args().Slice() {
				req := video_fetcher.NewDownloadRequest(url, c.String("format"), c.String("quality"), "")
				if err := download(ctx, ses, req); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func download(ctx context.Context, ses *session.Session, req video_fetcher.DownloadRequest) error {
	logger := zap.S()
	logger.Infof("Downloading %s as %s (quality: %s)", req.URL, req.Format, req.Quality)

	events, err := ses.Subscribe()
	if err != nil {
		return err
	}
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(req.URL),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionFullWidth(),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var prev video_fetcher.ProgressSnapshot
		for event := range events.Receive() {
			switch e := event.(type) {
			case session.DownloadStarted:
				logger.Debugf("started: %v", e.Record)
			case session.DownloadProgress:
				changes, err := diff.Diff(prev, e.Snapshot)
				if err != nil {
					logger.Errorf("failed to diff progress: %v", err)
				} else {
					for _, change := range changes {
						logger.Debugf("%v: %#v -> %#v", change.Path, change.From, change.To)
					}
				}
				prev = e.Snapshot
				if e.Snapshot.Filename != "" {
					bar.Describe(fmt.Sprintf("%s %s ETA %s", filepath.Base(e.Snapshot.Filename), e.Snapshot.Speed, e.Snapshot.ETA))
				}
				_ = bar.Set(int(e.Snapshot.Percentage))
			case session.DownloadFinished:
				if e.Err == nil {
					_ = bar.Finish()
				}
				events.Close()
			}
		}
	}()

	message, err := ses.StartDownload(ctx, req)
	if errors.Is(err, video_fetcher.ErrInvalidRequest) || errors.Is(err, video_fetcher.ErrDownloadInProgress) {
		// Rejected before starting, so there won't be a download-finished event
		events.Close()
	}
	wg.Wait()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	logger.Info(message)
	return nil
}

func formatsCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:      "formats",
		Usage:     "list the formats available for a URL",
		ArgsUsage: "URL",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected exactly one URL", 1)
			}
			ses, closeSession, err := openSession(ctx, c)
			defer closeSession()
			if err != nil {
				return err
			}
			formats, err := ses.ListFormats(ctx, c.Args().First())
			if err != nil {
				return err
			}
			fmt.Print(formats)
			return nil
		},
	}
}

func historyCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "show previous downloads",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "clear",
				Usage: "delete finished downloads from the history",
			},
		},
		Action: func(c *cli.Context) error {
			ses, closeSession, err := openSession(ctx, c)
			defer closeSession()
			if err != nil {
				return err
			}
			records, err := ses.History()
			if err != nil {
				return err
			}
			if c.Bool("clear") {
				for _, r := range records {
					if !r.Status.IsRunning() {
						if err := ses.DeleteHistory(r.ID); err != nil {
							return err
						}
					}
				}
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tSTATUS\tDURATION\tTITLE\tURL")
			for _, r := range records {
				title := r.Title
				if r.Status == session.DownloadStatusFailed {
					title = r.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.StartedAt.Local().Format(time.DateTime), r.Status, r.Duration().Round(time.Second), title, r.URL)
			}
			return w.Flush()
		},
	}
}

func serveCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the HTTP API for a UI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Value:   "127.0.0.1:8080",
				Usage:   "listen on `ADDR`",
				EnvVars: env("LISTEN"),
			},
			&cli.StringSliceFlag{
				Name:    "allow-origin",
				Usage:   "allow cross-origin requests from `ORIGIN`",
				EnvVars: env("ALLOW_ORIGINS"),
			},
		},
		Action: func(c *cli.Context) error {
			ses, closeSession, err := openSession(ctx, c)
			defer closeSession()
			if err != nil {
				return err
			}
			config := server.DefaultConfig
			if origins := c.StringSlice("allow-origin"); len(origins) > 0 {
				config.AllowOrigins = origins
			}
			return server.New(ses, config).Run(ctx, c.String("listen"))
		},
	}
}

func toolCommand(ctx context.Context) *cli.Command {
	return &cli.Command{
		Name:  "tool",
		Usage: "show which yt-dlp will be used, installing it if necessary",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "install",
				Usage: "fetch the latest release as the private copy, even if one exists",
			},
		},
		Action: func(c *cli.Context) error {
			registry := toolRegistry(c)
			var resolved tool.ResolvedTool
			var err error
			if c.Bool("install") {
				resolved, err = registry.ResolveWith(ctx, tool.LocatorDownload)
			} else {
				resolved, err = registry.Resolve(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s)\n", resolved.Path, resolved.Locator)
			return nil
		},
	}
}
