package usagedb

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Dedup states recorded per dispatch.
const (
	DedupMiss      = "miss"
	DedupHit       = "hit"
	DedupCoalesced = "coalesced"
)

// Record is one dispatched request.
type Record struct {
	RequestID    string    `json:"request_id"`
	CreatedAt    time.Time `json:"created_at"`
	Model        string    `json:"model"`
	Tier         string    `json:"tier"`
	Profile      string    `json:"profile"`
	Method       string    `json:"method"`
	Attempts     int       `json:"attempts"`
	Status       int       `json:"status"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostEstimate float64   `json:"cost_estimate"`
	BaselineCost float64   `json:"baseline_cost"`
	Savings      float64   `json:"savings"`
	LatencyMS    int64     `json:"latency_ms"`
	DedupState   string    `json:"dedup_state"`
}

// Recorder receives one record per dispatched request. The dispatcher only
// depends on this interface; a NopRecorder stands in when usage logging is
// disabled.
type Recorder interface {
	RecordDispatch(rec Record) error
}

// NopRecorder discards every record.
type NopRecorder struct{}

// RecordDispatch discards the record.
func (NopRecorder) RecordDispatch(Record) error { return nil }

// DB persists usage records in a SQLite database.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens (or creates) the usage database at the given path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}

	udb := &DB{
		db:   db,
		path: path,
	}

	if err := udb.configure(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure usage database: %w", err)
	}

	if err := udb.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run usage migrations: %w", err)
	}

	log.Printf("[UsageDB] initialized at %s", path)
	return udb, nil
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Close closes the database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// configure applies SQLite settings for a single-writer local database.
func (d *DB) configure() error {
	d.db.SetMaxOpenConns(4)
	d.db.SetMaxIdleConns(2)
	d.db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := d.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply pragma '%s': %w", pragma, err)
		}
	}

	return nil
}

// RecordDispatch inserts one usage record.
func (d *DB) RecordDispatch(rec Record) error {
	return d.recordAt(rec, time.Now().UTC())
}

func (d *DB) recordAt(rec Record, at time.Time) error {
	if rec.DedupState == "" {
		rec.DedupState = DedupMiss
	}

	_, err := d.db.Exec(`
		INSERT INTO usage_log
		(request_id, created_at, model, tier, profile, method, attempts, status,
		 input_tokens, output_tokens, cost_estimate, baseline_cost, savings,
		 latency_ms, dedup_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RequestID,
		at,
		rec.Model,
		rec.Tier,
		rec.Profile,
		rec.Method,
		rec.Attempts,
		rec.Status,
		rec.InputTokens,
		rec.OutputTokens,
		rec.CostEstimate,
		rec.BaselineCost,
		rec.Savings,
		rec.LatencyMS,
		rec.DedupState,
	)

	if err != nil {
		return fmt.Errorf("failed to record dispatch: %w", err)
	}
	return nil
}

// Recent returns the most recent records, newest first.
func (d *DB) Recent(limit int) ([]Record, error) {
	rows, err := d.db.Query(`
		SELECT request_id, created_at, model, tier, profile, method, attempts,
		       status, input_tokens, output_tokens, cost_estimate, baseline_cost,
		       savings, latency_ms, dedup_state
		FROM usage_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		err := rows.Scan(
			&rec.RequestID,
			&rec.CreatedAt,
			&rec.Model,
			&rec.Tier,
			&rec.Profile,
			&rec.Method,
			&rec.Attempts,
			&rec.Status,
			&rec.InputTokens,
			&rec.OutputTokens,
			&rec.CostEstimate,
			&rec.BaselineCost,
			&rec.Savings,
			&rec.LatencyMS,
			&rec.DedupState,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}

// Summary returns aggregate usage statistics.
func (d *DB) Summary() (map[string]interface{}, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var (
		count      int
		totalCost  float64
		totalSaved float64
		avgLatency float64
	)

	err := d.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(cost_estimate), 0),
		       COALESCE(SUM(baseline_cost - cost_estimate), 0),
		       COALESCE(AVG(latency_ms), 0)
		FROM usage_log
	`).Scan(&count, &totalCost, &totalSaved, &avgLatency)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}

	return map[string]interface{}{
		"requests":       count,
		"total_cost":     totalCost,
		"total_saved":    totalSaved,
		"avg_latency_ms": avgLatency,
		"path":           d.path,
	}, nil
}

// PruneOlderThan deletes records older than the given number of days and
// returns how many were removed.
func (d *DB) PruneOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	result, err := d.db.Exec(`DELETE FROM usage_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage records: %w", err)
	}
	return result.RowsAffected()
}
