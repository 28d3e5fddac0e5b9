package cellstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hazardgrid/h3-risk-service/internal/cache/keys"
	"github.com/hazardgrid/h3-risk-service/internal/core/model"
	"github.com/hazardgrid/h3-risk-service/internal/core/observability"
)

const (
	v1SnapshotName = "h3_cache.json"
	v2SnapshotName = "h3_cache_v2.json"
)

// loadSnapshot reads a JSON snapshot into a fresh map. A missing file is an
// empty store; a corrupt file is logged and discarded rather than blocking
// startup.
func loadSnapshot[R any](path string, log zerolog.Logger) map[string]*R {
	out := map[string]*R{}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("cell snapshot unreadable, starting empty")
		}
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cell snapshot corrupt, starting empty")
		return map[string]*R{}
	}
	log.Info().Str("path", path).Int("records", len(out)).Msg("cell snapshot loaded")
	return out
}

func writeSnapshot[R any](path string, records map[string]*R) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// fileCore carries the shared flush machinery of the two file stores.
type fileCore struct {
	path string
	log  zerolog.Logger

	mu    sync.RWMutex
	dirty bool

	stop     chan struct{}
	flushed  chan struct{}
	stopOnce sync.Once
}

func (c *fileCore) startFlusher(interval time.Duration, flush func() error) {
	if interval <= 0 {
		interval = time.Minute
	}
	c.stop = make(chan struct{})
	c.flushed = make(chan struct{})
	go func() {
		defer close(c.flushed)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := flush(); err != nil {
					c.log.Error().Err(err).Msg("periodic cell flush failed")
				}
			case <-c.stop:
				return
			}
		}
	}()
}

func (c *fileCore) shutdown(flush func() error) error {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.flushed
	return flush()
}

// FileV2 is the default single-process store for full-distribution records.
type FileV2 struct {
	fileCore
	records map[string]*model.RecordV2
}

func NewFileV2(dataDir string, flushInterval time.Duration, log zerolog.Logger) *FileV2 {
	log = log.With().Str("component", "cellstore.v2").Logger()
	s := &FileV2{
		fileCore: fileCore{path: filepath.Join(dataDir, v2SnapshotName), log: log},
	}
	s.records = loadSnapshot[model.RecordV2](s.path, log)
	s.startFlusher(flushInterval, s.flush)
	return s
}

// GetMulti returns copies of the stored records. Callers may mutate response
// metadata without racing the flusher or other requests.
func (s *FileV2) GetMulti(_ context.Context, cells model.Cells, timestamp string) (map[string]*model.RecordV2, model.Cells, error) {
	found := make(map[string]*model.RecordV2, len(cells))
	var missing model.Cells

	s.mu.RLock()
	for _, cell := range cells {
		if rec, ok := s.records[keys.CellV2(cell, timestamp)]; ok {
			cp := *rec
			found[cell] = &cp
		} else {
			missing = append(missing, cell)
		}
	}
	s.mu.RUnlock()

	observability.AddCacheHits("file", len(found))
	observability.AddCacheMisses("file", len(missing))
	return found, missing, nil
}

func (s *FileV2) PutMulti(_ context.Context, records []*model.RecordV2) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, rec := range records {
		cp := *rec
		s.records[keys.CellV2(rec.H3Index, rec.Timestamp)] = &cp
	}
	s.dirty = true
	s.mu.Unlock()
	return nil
}

func (s *FileV2) Drop(_ context.Context, cells model.Cells) (int, error) {
	dropped := 0
	s.mu.Lock()
	for _, cell := range cells {
		prefix := "cell:v2:" + cell + ":"
		for k := range s.records {
			if strings.HasPrefix(k, prefix) {
				delete(s.records, k)
				dropped++
			}
		}
	}
	if dropped > 0 {
		s.dirty = true
	}
	s.mu.Unlock()
	return dropped, nil
}

func (s *FileV2) flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]*model.RecordV2, len(s.records))
	for k, v := range s.records {
		snapshot[k] = v
	}
	s.dirty = false
	s.mu.Unlock()

	if err := writeSnapshot(s.path, snapshot); err != nil {
		return err
	}
	s.log.Debug().Int("records", len(snapshot)).Msg("cell snapshot written")
	return nil
}

func (s *FileV2) Close() error { return s.shutdown(s.flush) }

// FileV1 mirrors FileV2 for the legacy flat schema.
type FileV1 struct {
	fileCore
	records map[string]*model.RecordV1
}

func NewFileV1(dataDir string, flushInterval time.Duration, log zerolog.Logger) *FileV1 {
	log = log.With().Str("component", "cellstore.v1").Logger()
	s := &FileV1{
		fileCore: fileCore{path: filepath.Join(dataDir, v1SnapshotName), log: log},
	}
	s.records = loadSnapshot[model.RecordV1](s.path, log)
	s.startFlusher(flushInterval, s.flush)
	return s
}

func (s *FileV1) GetMulti(_ context.Context, cells model.Cells) (map[string]*model.RecordV1, model.Cells, error) {
	found := make(map[string]*model.RecordV1, len(cells))
	var missing model.Cells

	s.mu.RLock()
	for _, cell := range cells {
		if rec, ok := s.records[keys.CellV1(cell)]; ok {
			cp := *rec
			found[cell] = &cp
		} else {
			missing = append(missing, cell)
		}
	}
	s.mu.RUnlock()

	observability.AddCacheHits("file", len(found))
	observability.AddCacheMisses("file", len(missing))
	return found, missing, nil
}

func (s *FileV1) PutMulti(_ context.Context, records []*model.RecordV1) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, rec := range records {
		cp := *rec
		s.records[keys.CellV1(rec.H3Index)] = &cp
	}
	s.dirty = true
	s.mu.Unlock()
	return nil
}

func (s *FileV1) Drop(_ context.Context, cells model.Cells) (int, error) {
	dropped := 0
	s.mu.Lock()
	for _, cell := range cells {
		if _, ok := s.records[keys.CellV1(cell)]; ok {
			delete(s.records, keys.CellV1(cell))
			dropped++
		}
	}
	if dropped > 0 {
		s.dirty = true
	}
	s.mu.Unlock()
	return dropped, nil
}

func (s *FileV1) flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]*model.RecordV1, len(s.records))
	for k, v := range s.records {
		snapshot[k] = v
	}
	s.dirty = false
	s.mu.Unlock()

	if err := writeSnapshot(s.path, snapshot); err != nil {
		return err
	}
	s.log.Debug().Int("records", len(snapshot)).Msg("cell snapshot written")
	return nil
}

func (s *FileV1) Close() error { return s.shutdown(s.flush) }
