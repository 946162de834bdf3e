package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alanbriolat/video-fetcher/async"
)

const envPrefix = "VIDEO_FETCHER_"

func env(name string) []string {
	return []string{envPrefix + name}
}

func main() {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	config := zap.NewDevelopmentConfig()
	config.Level = level
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := config.Build()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Sugar().Warnf(".env could not be loaded: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &cli.App{
		Name:  "video-fetcher",
		Usage: "download videos and audio with yt-dlp",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "enable debug logging",
				EnvVars: env("DEBUG"),
			},
			&cli.StringFlag{
				Name:    "database",
				Usage:   "keep download history in `FILE` (.sqlite3 for SQLite, otherwise bbolt; \"none\" to disable)",
				EnvVars: env("DATABASE"),
			},
			&cli.StringFlag{
				Name:    "tool-dir",
				Usage:   "install yt-dlp into `DIR` if it isn't on the PATH",
				EnvVars: env("TOOL_DIR"),
			},
			&cli.BoolFlag{
				Name:    "prefer-local",
				Usage:   "use the private copy of yt-dlp even if there is one on the PATH",
				EnvVars: env("PREFER_LOCAL"),
			},
			&cli.StringFlag{
				Name:    "release-url",
				Usage:   "fetch yt-dlp releases from `URL`",
				EnvVars: env("RELEASE_URL"),
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "save downloads to `DIR` (default: the downloads directory)",
				EnvVars: env("OUTPUT"),
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				level.SetLevel(zapcore.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			downloadCommand(ctx),
			formatsCommand(ctx),
			historyCommand(ctx),
			serveCommand(ctx),
			toolCommand(ctx),
		},
		HideHelpCommand: true,
	}

	result := async.Run(func() error { return app.Run(os.Args) })

	select {
	case err = <-result:
		if err != nil {
			logger.Fatal(err.Error())
		}
	case <-ctx.Done():
		stop()
		err = <-result
		if err != nil {
			logger.Fatal(err.Error())
		}
	}
}
