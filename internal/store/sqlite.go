// Package store records evolution runs in a SQLite database: one row per run, one per
// epoch, and the champion genome of every epoch.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tinyhoot/RetroArchML/neat"
)

// RunRecord describes a stored run.
type RunRecord struct {
	ID        string
	StartedAt time.Time
	Seed      uint64
	PopSize   int
	Config    *neat.Config
}

// EpochRecord is the stored summary of one epoch.
type EpochRecord struct {
	RunID        string
	Epoch        int
	BestFitness  float64
	MeanFitness  float64
	SpeciesCount int
	Stats        neat.EpochStats
}

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// StartRun registers a new run and returns a reporter that records its epochs.
func (s *SQLiteStore) StartRun(ctx context.Context, config *neat.Config) (*RunReporter, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	id := uuid.NewString()
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, seed, pop_size, config)
		VALUES (?, ?, ?, ?, ?)
	`, id, time.Now().UTC().Format(time.RFC3339Nano), int64(config.Neat.Seed), config.Neat.PopSize, payload)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &RunReporter{store: s, RunID: id}, nil
}

// SaveEpoch stores the statistics and the fittest genome of one epoch.
func (s *SQLiteStore) SaveEpoch(ctx context.Context, runID string, stats *neat.EpochStats) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode epoch %d: %w", stats.Epoch, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO epochs (run_id, epoch, best_fitness, mean_fitness, species_count, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, epoch) DO UPDATE SET
			best_fitness = excluded.best_fitness,
			mean_fitness = excluded.mean_fitness,
			species_count = excluded.species_count,
			payload = excluded.payload
	`, runID, stats.Epoch, stats.BestFitness, stats.MeanFitness, len(stats.Species), payload)
	if err != nil {
		return fmt.Errorf("insert epoch %d: %w", stats.Epoch, err)
	}

	if stats.Best != nil {
		genome, err := json.Marshal(stats.Best)
		if err != nil {
			return fmt.Errorf("encode genome %d: %w", stats.Best.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO champions (run_id, epoch, genome_id, fitness, payload)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(run_id, epoch) DO UPDATE SET
				genome_id = excluded.genome_id,
				fitness = excluded.fitness,
				payload = excluded.payload
		`, runID, stats.Epoch, stats.Best.ID, stats.Best.Fitness, genome)
		if err != nil {
			return fmt.Errorf("insert champion of epoch %d: %w", stats.Epoch, err)
		}
	}
	return tx.Commit()
}

// GetRun returns a stored run.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (RunRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return RunRecord{}, false, err
	}

	var (
		startedAt string
		seed      int64
		payload   []byte
		record    = RunRecord{ID: runID}
	)
	err = db.QueryRowContext(ctx, `SELECT started_at, seed, pop_size, config FROM runs WHERE id = ?`, runID).
		Scan(&startedAt, &seed, &record.PopSize, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, false, nil
		}
		return RunRecord{}, false, err
	}

	record.Seed = uint64(seed)
	if record.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return RunRecord{}, false, fmt.Errorf("parse start time of run %s: %w", runID, err)
	}
	record.Config = &neat.Config{}
	if err := json.Unmarshal(payload, record.Config); err != nil {
		return RunRecord{}, false, fmt.Errorf("decode config of run %s: %w", runID, err)
	}
	return record, true, nil
}

// ListEpochs returns the stored epochs of a run in ascending order.
func (s *SQLiteStore) ListEpochs(ctx context.Context, runID string) ([]EpochRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT epoch, best_fitness, mean_fitness, species_count, payload
		FROM epochs WHERE run_id = ? ORDER BY epoch
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EpochRecord
	for rows.Next() {
		record := EpochRecord{RunID: runID}
		var payload []byte
		if err := rows.Scan(&record.Epoch, &record.BestFitness, &record.MeanFitness, &record.SpeciesCount, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &record.Stats); err != nil {
			return nil, fmt.Errorf("decode epoch %d of run %s: %w", record.Epoch, runID, err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// BestGenome returns the fittest champion recorded for a run. Ties go to the earliest epoch.
func (s *SQLiteStore) BestGenome(ctx context.Context, runID string) (*neat.Genome, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `
		SELECT payload FROM champions WHERE run_id = ?
		ORDER BY fitness DESC, epoch ASC LIMIT 1
	`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	genome := &neat.Genome{}
	if err := json.Unmarshal(payload, genome); err != nil {
		return nil, false, fmt.Errorf("decode best genome of run %s: %w", runID, err)
	}
	genome.RebuildIncoming()
	return genome, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			seed INTEGER NOT NULL,
			pop_size INTEGER NOT NULL,
			config BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS epochs (
			run_id TEXT NOT NULL REFERENCES runs(id),
			epoch INTEGER NOT NULL,
			best_fitness REAL NOT NULL,
			mean_fitness REAL NOT NULL,
			species_count INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, epoch)
		);
		CREATE TABLE IF NOT EXISTS champions (
			run_id TEXT NOT NULL REFERENCES runs(id),
			epoch INTEGER NOT NULL,
			genome_id INTEGER NOT NULL,
			fitness REAL NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, epoch)
		);
	`)
	return err
}

// RunReporter records the epochs of one run. It implements neat.Reporter.
type RunReporter struct {
	store *SQLiteStore
	RunID string
}

// EpochComplete implements neat.Reporter.
func (r *RunReporter) EpochComplete(ctx context.Context, stats *neat.EpochStats) error {
	return r.store.SaveEpoch(ctx, r.RunID, stats)
}
