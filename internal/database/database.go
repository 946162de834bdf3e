// Package database stores download history in SQLite through gorm.
package database

import (
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"moul.io/zapgorm2"

	video_fetcher "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/internal/session"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Download is the table row for a session.DownloadRecord.
type Download struct {
	ID         string `gorm:"primaryKey"`
	URL        string
	Format     string
	Quality    string
	OutputDir  string
	Filename   string
	Title      string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

func fromRecord(r *session.DownloadRecord) Download {
	d := Download{
		ID:        string(r.ID),
		URL:       r.URL,
		Format:    string(r.Format),
		Quality:   string(r.Quality),
		OutputDir: r.OutputDir,
		Filename:  r.Filename,
		Title:     r.Title,
		Status:    string(r.Status),
		Error:     r.Error,
		StartedAt: r.StartedAt,
	}
	if !r.FinishedAt.IsZero() {
		finished := r.FinishedAt
		d.FinishedAt = &finished
	}
	return d
}

func (d Download) toRecord() session.DownloadRecord {
	r := session.DownloadRecord{
		ID:        session.DownloadID(d.ID),
		URL:       d.URL,
		Format:    video_fetcher.ParseFormat(d.Format),
		Quality:   video_fetcher.ParseQuality(d.Quality),
		OutputDir: d.OutputDir,
		Filename:  d.Filename,
		Title:     d.Title,
		Status:    session.DownloadStatus(d.Status),
		Error:     d.Error,
		StartedAt: d.StartedAt,
	}
	if d.FinishedAt != nil {
		r.FinishedAt = *d.FinishedAt
	}
	return r
}

type Database struct {
	db *gorm.DB
}

var _ session.Database = &Database{}

// New opens (creating if necessary) the SQLite database at path and brings its schema up to date. SQL is logged
// through the global zap logger.
func New(path string) (*Database, error) {
	logger := zapgorm2.New(zap.L().Named("database"))
	logger.SetAsDefault()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to open %v: %w", path, err)
	}
	d := &Database{db}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Migrate brings the schema up to date from the embedded migrations.
func (d *Database) Migrate() error {
	log := zap.S().Named("database")
	log.Debug("running database migrations")
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	fs, err := iofs.New(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(sqlDB, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", fs, "sqlite3", driver)
	if err != nil {
		return err
	}
	m.Log = migrateLogger{log}
	switch err := m.Up(); {
	case err == nil:
		log.Info("database migration complete")
	case errors.Is(err, migrate.ErrNoChange):
		log.Debug("no database migration required")
	default:
		return fmt.Errorf("database migration failed: %w", err)
	}
	return nil
}

// migrateLogger sends migrate's progress messages to zap.
type migrateLogger struct {
	log *zap.SugaredLogger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.log.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

func (l migrateLogger) Verbose() bool {
	return false
}

func (d *Database) Close() {
	if sqlDB, err := d.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (d *Database) ListDownloads() ([]session.DownloadRecord, error) {
	var rows []Download
	if err := d.db.Order("started_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]session.DownloadRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

// WriteDownload inserts or replaces the row for the record.
func (d *Database) WriteDownload(record *session.DownloadRecord) error {
	row := fromRecord(record)
	return d.db.Save(&row).Error
}

func (d *Database) DeleteDownload(record *session.DownloadRecord) error {
	return d.db.Delete(&Download{}, "id = ?", string(record.ID)).Error
}
