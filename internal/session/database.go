package session

import (
	"sort"
	"sync"
)

// Database persists the download history.
type Database interface {
	ListDownloads() ([]DownloadRecord, error)
	WriteDownload(*DownloadRecord) error
	DeleteDownload(*DownloadRecord) error
}

type NilDatabase struct{}

func (d NilDatabase) ListDownloads() ([]DownloadRecord, error) {
	return nil, nil
}

func (d NilDatabase) WriteDownload(_ *DownloadRecord) error {
	return nil
}

func (d NilDatabase) DeleteDownload(_ *DownloadRecord) error {
	return nil
}

// MemoryDatabase keeps history for the lifetime of the process.
type MemoryDatabase struct {
	mu      sync.Mutex
	records map[DownloadID]DownloadRecord
}

func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{records: make(map[DownloadID]DownloadRecord)}
}

func (d *MemoryDatabase) ListDownloads() ([]DownloadRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	records := make([]DownloadRecord, 0, len(d.records))
	for _, r := range d.records {
		records = append(records, r)
	}
	return records, nil
}

func (d *MemoryDatabase) WriteDownload(r *DownloadRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[r.ID] = *r
	return nil
}

func (d *MemoryDatabase) DeleteDownload(r *DownloadRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.records, r.ID)
	return nil
}

// SortNewestFirst orders records by start time, most recent first.
func SortNewestFirst(records []DownloadRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
}
