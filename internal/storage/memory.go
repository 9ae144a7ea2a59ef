package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
)

// MemoryBackend implements an in-memory episode history
type MemoryBackend struct {
	mu        sync.RWMutex
	records   map[string]*EpisodeRecord // ID -> record
	runIndex  map[string][]string       // RunID -> record IDs, oldest first
	timeIndex []string                  // record IDs sorted by timestamp
	maxSize   uint64                    // Maximum number of records to keep
	closed    bool
}

// NewMemoryBackend creates a new in-memory storage backend
func NewMemoryBackend(maxSize uint64) *MemoryBackend {
	return &MemoryBackend{
		records:   make(map[string]*EpisodeRecord),
		runIndex:  make(map[string][]string),
		timeIndex: make([]string, 0),
		maxSize:   maxSize,
	}
}

// Store implements Backend.Store
func (m *MemoryBackend) Store(ctx context.Context, record *EpisodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	stored := *record
	m.records[stored.ID] = &stored
	m.runIndex[stored.RunID] = append(m.runIndex[stored.RunID], stored.ID)
	m.insertInTimeIndex(stored.ID, stored.Timestamp)
	m.evictIfNeeded()

	return nil
}

// Recent implements Backend.Recent
func (m *MemoryBackend) Recent(ctx context.Context, runID string, limit int) ([]*EpisodeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	ids := m.idsFor(runID)
	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}

	out := make([]*EpisodeRecord, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		r := *m.records[ids[i]]
		out = append(out, &r)
	}
	return out, nil
}

// GetStats implements Backend.GetStats
func (m *MemoryBackend) GetStats(ctx context.Context, runID string) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	ids := m.idsFor(runID)
	if len(ids) == 0 {
		if runID != "" {
			return nil, ErrNotFound
		}
		return &Stats{}, nil
	}

	scores := make([]float64, len(ids))
	for i, id := range ids {
		scores[i] = m.records[id].Score
	}
	return summarise(runID, scores, m.records[ids[0]].Timestamp, m.records[ids[len(ids)-1]].Timestamp), nil
}

// summarise builds Stats from scores ordered oldest first.
func summarise(runID string, scores []float64, oldest, newest time.Time) *Stats {
	recent := scores
	if len(recent) > RecentWindow {
		recent = recent[len(recent)-RecentWindow:]
	}
	return &Stats{
		RunID:           runID,
		TotalEpisodes:   uint64(len(scores)),
		MeanScore:       floats.Sum(scores) / float64(len(scores)),
		MeanScoreRecent: floats.Sum(recent) / float64(len(recent)),
		BestScore:       floats.Max(scores),
		LastScore:       scores[len(scores)-1],
		OldestTimestamp: &oldest,
		NewestTimestamp: &newest,
	}
}

// Clear implements Backend.Clear
func (m *MemoryBackend) Clear(ctx context.Context, runID string, beforeTimestamp *time.Time, keepLastN uint32) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	ids := m.idsFor(runID)
	toDelete := make(map[string]struct{})

	if beforeTimestamp != nil {
		for _, id := range ids {
			if m.records[id].Timestamp.Before(*beforeTimestamp) {
				toDelete[id] = struct{}{}
			}
		}
	}

	if keepLastN > 0 && len(ids) > int(keepLastN) {
		for _, id := range ids[:len(ids)-int(keepLastN)] {
			toDelete[id] = struct{}{}
		}
	}

	for id := range toDelete {
		m.deleteRecord(id)
	}

	return uint64(len(toDelete)), nil
}

// Close implements Backend.Close
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = nil
	m.runIndex = nil
	m.timeIndex = nil
	m.closed = true

	return nil
}

// Helper methods

// idsFor returns record IDs oldest first, for one run or for all runs.
func (m *MemoryBackend) idsFor(runID string) []string {
	if runID == "" {
		return append([]string(nil), m.timeIndex...)
	}
	ids := append([]string(nil), m.runIndex[runID]...)
	sort.SliceStable(ids, func(i, j int) bool {
		return m.records[ids[i]].Timestamp.Before(m.records[ids[j]].Timestamp)
	})
	return ids
}

func (m *MemoryBackend) insertInTimeIndex(id string, timestamp time.Time) {
	// Binary search for insertion point
	idx := sort.Search(len(m.timeIndex), func(i int) bool {
		return m.records[m.timeIndex[i]].Timestamp.After(timestamp)
	})

	m.timeIndex = append(m.timeIndex, "")
	copy(m.timeIndex[idx+1:], m.timeIndex[idx:])
	m.timeIndex[idx] = id
}

func (m *MemoryBackend) evictIfNeeded() {
	for m.maxSize > 0 && uint64(len(m.records)) > m.maxSize && len(m.timeIndex) > 0 {
		m.deleteRecord(m.timeIndex[0])
	}
}

func (m *MemoryBackend) deleteRecord(id string) {
	record, exists := m.records[id]
	if !exists {
		return
	}

	delete(m.records, id)

	if runIDs, exists := m.runIndex[record.RunID]; exists {
		m.runIndex[record.RunID] = removeString(runIDs, id)
		if len(m.runIndex[record.RunID]) == 0 {
			delete(m.runIndex, record.RunID)
		}
	}

	m.timeIndex = removeString(m.timeIndex, id)
}

func removeString(slice []string, item string) []string {
	for i, s := range slice {
		if s == item {
			return append(slice[:i], slice[i+1:]...)
		}
	}
	return slice
}
