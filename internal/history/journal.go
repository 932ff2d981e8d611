package history

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/SpasticCat/findmycar/internal/geo"
)

// Journal appends parking events to a CSV file so past spots can be
// reviewed later (the live store is single-slot by design; the journal is
// the only record of anything older).
type Journal struct {
	mu      sync.Mutex
	dir     string
	enabled bool

	file   *os.File
	writer *csv.Writer
	rows   int
}

// Config holds journal configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

const maxRowsPerFile = 10_000 // Rotate well before files get unwieldy

var csvHeader = []string{"timestamp", "event", "lat", "lon", "note"}

// New creates a new Journal.
func New(cfg Config) *Journal {
	if cfg.Path == "" {
		cfg.Path = "/var/log/findmycar"
	}
	return &Journal{dir: cfg.Path, enabled: cfg.Enabled}
}

// RecordSaved appends a "saved" event.
func (j *Journal) RecordSaved(coord geo.Coordinate) {
	j.record("saved", &coord, "")
}

// RecordCleared appends a "cleared" event carrying the note that was
// dropped with the spot, if any.
func (j *Journal) RecordCleared(coord geo.Coordinate, note string) {
	j.record("cleared", &coord, note)
}

func (j *Journal) record(event string, coord *geo.Coordinate, note string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.enabled {
		return
	}
	if j.writer == nil || j.rows >= maxRowsPerFile {
		if err := j.rotateFile(time.Now()); err != nil {
			log.Printf("[history] rotate failed: %v", err)
			return
		}
	}

	row := []string{
		time.Now().Format(time.RFC3339),
		event,
		fmt.Sprintf("%.6f", coord.Lat),
		fmt.Sprintf("%.6f", coord.Lon),
		note,
	}
	if err := j.writer.Write(row); err != nil {
		log.Printf("[history] write failed: %v", err)
		return
	}
	j.writer.Flush()
	j.rows++
}

// Close flushes and closes the current file.
func (j *Journal) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closeFile()
}

func (j *Journal) rotateFile(now time.Time) error {
	j.closeFile()

	if err := os.MkdirAll(j.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", j.dir, err)
	}
	path := filepath.Join(j.dir, fmt.Sprintf("parking_%s.csv", now.Format("2006-01-02_150405")))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	j.file = f
	j.writer = csv.NewWriter(f)
	j.rows = 0

	if err := j.writer.Write(csvHeader); err != nil {
		return err
	}
	j.writer.Flush()
	log.Printf("[history] opened %s", path)
	return nil
}

func (j *Journal) closeFile() {
	if j.writer != nil {
		j.writer.Flush()
		j.writer = nil
	}
	if j.file != nil {
		j.file.Close()
		j.file = nil
	}
}
