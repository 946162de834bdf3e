package main

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/alanbriolat/video-fetcher/generic"
	"github.com/alanbriolat/video-fetcher/internal/boltdb"
	"github.com/alanbriolat/video-fetcher/internal/database"
	"github.com/alanbriolat/video-fetcher/internal/session"
	"github.com/alanbriolat/video-fetcher/internal/tool"
)

// openDatabase picks the history store from the file extension. The returned close func is never nil.
func openDatabase(path string) (session.Database, func(), error) {
	if path == "none" {
		return session.NilDatabase{}, func() {}, nil
	}
	if path == "" {
		var err error
		if path, err = xdg.DataFile(filepath.Join("video-fetcher", "history.db")); err != nil {
			return nil, nil, err
		}
	}
	zap.S().Debugf("using history database %v", path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sqlite", ".sqlite3", ".db3":
		db, err := database.New(path)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		db, err := boltdb.New(path)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	}
}

// toolRegistry is the locator chain, with the private copy tried first if --prefer-local is set.
func toolRegistry(c *cli.Context) *tool.Registry {
	registry := tool.NewRegistry(toolConfig(c))
	if c.Bool("prefer-local") {
		generic.Unwrap_(registry.SetPriority(tool.LocatorLocal, tool.PriorityHighest))
	}
	zap.S().Debugf("tool locators: %v", registry.List())
	return registry
}

func toolConfig(c *cli.Context) tool.Config {
	config := tool.DefaultConfig()
	if dir := c.String("tool-dir"); dir != "" {
		config.LocalDir = dir
	}
	if url := c.String("release-url"); url != "" {
		config.ReleaseURL = url
	}
	return config
}

// openSession builds a Session from the global flags. The returned close func is never nil.
func openSession(ctx context.Context, c *cli.Context) (*session.Session, func(), error) {
	db, closeDB, err := openDatabase(c.String("database"))
	if err != nil {
		return nil, func() {}, err
	}
	cfg := session.DefaultConfig
	cfg.Resolver = tool.NewResolver(toolRegistry(c))
	cfg.DefaultOutputDir = c.String("output")
	cfg.Database = db
	ses, err := session.New(cfg, ctx)
	if err != nil {
		closeDB()
		return nil, func() {}, err
	}
	return ses, func() {
		ses.Close()
		closeDB()
	}, nil
}
