// Package checkpoint persists per-run completion state so an
// interrupted run can resume without refetching users it already
// finished. The file outlives the process; a clean run end clears it.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/devscope-hq/devscope/internal/models"
)

const completionsBucket = "completions"

type entry struct {
	Outcome     models.Outcome `json:"outcome"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Store is a bolt-backed completion ledger for the current run
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
}

// Open opens (or creates) the checkpoint file and its bucket.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(completionsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init checkpoint bucket: %w", err)
	}

	logger := slog.Default().With("component", "checkpoint")
	logger.Debug("checkpoint opened", "path", path)

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Mark records one username as completed with its terminal outcome.
// Callers only mark outcomes that should not be refetched on resume.
func (s *Store) Mark(username string, outcome models.Outcome) error {
	key := normalize(username)
	data, err := json.Marshal(entry{Outcome: outcome, CompletedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal checkpoint entry: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(completionsBucket)).Put([]byte(key), data)
	})
}

// Completed returns every username finished before the interruption,
// keyed lowercase, with its recorded outcome.
func (s *Store) Completed() (map[string]models.Outcome, error) {
	done := make(map[string]models.Outcome)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(completionsBucket)).ForEach(func(k, v []byte) error {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode checkpoint entry %q: %w", k, err)
			}
			done[string(k)] = e.Outcome
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return done, nil
}

// Clear drops all completion state. Called when a run ends cleanly so
// the next run starts from a fresh discovery.
func (s *Store) Clear() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(completionsBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(completionsBucket))
		return err
	})
	if err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	s.logger.Debug("checkpoint cleared")
	return nil
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
