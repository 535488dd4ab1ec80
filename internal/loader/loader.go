// Package loader reads trip event logs listed in a YAML manifest.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-replay/internal/models"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var ErrTripNotFound = errors.New("trip not found")

// maxParallelLoads bounds concurrent file reads in LoadAll.
const maxParallelLoads = 4

// Source supplies fully materialised trip logs in a stable trip order.
type Source interface {
	LoadAll(ctx context.Context) ([]models.TripLog, error)
	Metadata() []models.TripMetadata
}

// Manifest lists the trips of a replay.
type Manifest struct {
	Trips []models.TripMetadata `yaml:"trips"`
}

// ReadManifest parses a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	seen := make(map[string]bool, len(m.Trips))
	for i, t := range m.Trips {
		if t.ID == "" || t.File == "" {
			return nil, fmt.Errorf("manifest %s: trip %d needs id and file", path, i)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("manifest %s: duplicate trip id %s", path, t.ID)
		}
		seen[t.ID] = true
	}
	return &m, nil
}

// WriteManifest stores a manifest as YAML.
func WriteManifest(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Loader reads trip files relative to a data directory and caches them.
type Loader struct {
	dir      string
	manifest *Manifest
	logger   logrus.FieldLogger

	mu    sync.Mutex
	cache map[string][]models.Event
}

// New creates a loader for the manifest's trips; file names resolve against
// dir.
func New(dir string, manifest *Manifest, logger logrus.FieldLogger) *Loader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Loader{
		dir:      dir,
		manifest: manifest,
		logger:   logger,
		cache:    make(map[string][]models.Event),
	}
}

// Open reads the manifest at dir/manifestName and returns a loader for it.
func Open(dir, manifestName string, logger logrus.FieldLogger) (*Loader, error) {
	m, err := ReadManifest(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, err
	}
	return New(dir, m, logger), nil
}

// Metadata returns a copy of the manifest entries.
func (l *Loader) Metadata() []models.TripMetadata {
	out := make([]models.TripMetadata, len(l.manifest.Trips))
	copy(out, l.manifest.Trips)
	return out
}

// LoadTrip returns the events of one trip, reading the file on first use.
func (l *Loader) LoadTrip(ctx context.Context, tripID string) ([]models.Event, error) {
	l.mu.Lock()
	if events, ok := l.cache[tripID]; ok {
		l.mu.Unlock()
		return events, nil
	}
	l.mu.Unlock()

	meta, ok := l.lookup(tripID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTripNotFound, tripID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(l.dir, meta.File)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load trip %s: %w", tripID, err)
	}
	var events []models.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode trip %s from %s: %w", tripID, path, err)
	}

	l.mu.Lock()
	if cached, ok := l.cache[tripID]; ok {
		events = cached
	} else {
		l.cache[tripID] = events
	}
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{"trip_id": tripID, "events": len(events)}).Debug("Loaded trip")
	return events, nil
}

// LoadAll loads every trip concurrently and returns them in manifest order.
func (l *Loader) LoadAll(ctx context.Context) ([]models.TripLog, error) {
	logs := make([]models.TripLog, len(l.manifest.Trips))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLoads)
	for i, meta := range l.manifest.Trips {
		i, meta := i, meta
		g.Go(func() error {
			events, err := l.LoadTrip(gctx, meta.ID)
			if err != nil {
				return err
			}
			logs[i] = models.TripLog{TripID: meta.ID, Events: events}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (l *Loader) lookup(tripID string) (models.TripMetadata, bool) {
	for _, t := range l.manifest.Trips {
		if t.ID == tripID {
			return t, true
		}
	}
	return models.TripMetadata{}, false
}
