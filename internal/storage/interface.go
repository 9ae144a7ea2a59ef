package storage

import (
	"context"
	"errors"
	"time"
)

// RecentWindow is the number of latest episodes averaged in Stats.MeanScoreRecent.
const RecentWindow = 100

var (
	// ErrNotFound indicates the requested run has no recorded episodes.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned by a backend after Close.
	ErrClosed = errors.New("backend closed")
)

// Mode distinguishes training episodes from evaluation episodes.
type Mode string

const (
	ModeTrain Mode = "train"
	ModeTest  Mode = "test"
)

// EpisodeRecord summarises one finished episode.
type EpisodeRecord struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Mode       Mode      `json:"mode"`
	Episode    int       `json:"episode"`
	Steps      int       `json:"steps"`
	Score      float64   `json:"score"`
	PolicyLoss float64   `json:"policy_loss"`
	ValueLoss  float64   `json:"value_loss"`
	Timestamp  time.Time `json:"timestamp"`
}

// Stats aggregates the episodes of one run.
type Stats struct {
	RunID           string     `json:"run_id"`
	TotalEpisodes   uint64     `json:"total_episodes"`
	MeanScore       float64    `json:"mean_score"`
	MeanScoreRecent float64    `json:"mean_score_recent"`
	BestScore       float64    `json:"best_score"`
	LastScore       float64    `json:"last_score"`
	OldestTimestamp *time.Time `json:"oldest_timestamp,omitempty"`
	NewestTimestamp *time.Time `json:"newest_timestamp,omitempty"`
}

// Backend defines the interface for episode history storage implementations
type Backend interface {
	// Store a single episode record
	Store(ctx context.Context, record *EpisodeRecord) error

	// Recent returns up to limit records of a run, newest first
	Recent(ctx context.Context, runID string, limit int) ([]*EpisodeRecord, error)

	// Get statistics for a run
	GetStats(ctx context.Context, runID string) (*Stats, error)

	// Clear records of a run (all runs when runID is empty) older than
	// beforeTimestamp, keeping the newest keepLastN
	Clear(ctx context.Context, runID string, beforeTimestamp *time.Time, keepLastN uint32) (uint64, error)

	// Close the backend and cleanup resources
	Close() error
}
