package journal

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
)

// Run represents one restore run.
type Run struct {
	ID          string `json:"id"`
	HistoryDir  string `json:"historyDir"`
	ProjectRoot string `json:"projectRoot"`
	Started     int64  `json:"started"`
	Finished    int64  `json:"finished"`
	Groups      int    `json:"groups"`
	Restored    int    `json:"restored"`
	Failed      int    `json:"failed"`
}

// Restore represents the outcome for one restore group within a run.
type Restore struct {
	ID           string `json:"id"`
	RunID        string `json:"runId"`
	OriginalPath string `json:"originalPath"`
	DestPath     string `json:"destPath"`
	SnapshotPath string `json:"snapshotPath"`
	GroupTime    int64  `json:"groupTime"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	Size         int64  `json:"size"`
	Hash         string `json:"hash"`
	Content      []byte `json:"-"`
}

// Stats holds aggregate statistics.
type Stats struct {
	TotalRuns     int   `json:"totalRuns"`
	TotalRestores int   `json:"totalRestores"`
	TotalSize     int64 `json:"totalSize"`
}

// Journal wraps a SQLite database recording restore runs.
type Journal struct {
	db      *sql.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	maxRuns int
}

// New opens a SQLite database at the given path, enables WAL mode and
// foreign keys, creates the schema, and returns a Journal. maxRuns > 0 keeps
// only that many most recent runs.
func New(dbPath string, maxRuns int) (*Journal, error) {
	sqlDB, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode = WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("setting synchronous mode: %w", err)
	}

	if err := createSchema(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		sqlDB.Close()
		encoder.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Journal{
		db:      sqlDB,
		encoder: encoder,
		decoder: decoder,
		maxRuns: maxRuns,
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id           TEXT PRIMARY KEY,
		history_dir  TEXT NOT NULL,
		project_root TEXT NOT NULL,
		started      INTEGER NOT NULL,
		finished     INTEGER NOT NULL DEFAULT 0,
		groups_count INTEGER NOT NULL DEFAULT 0,
		restored     INTEGER NOT NULL DEFAULT 0,
		failed       INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS restores (
		id            TEXT PRIMARY KEY,
		run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		original_path TEXT NOT NULL,
		dest_path     TEXT NOT NULL,
		snapshot_path TEXT NOT NULL,
		group_time    INTEGER NOT NULL,
		status        TEXT NOT NULL,
		error         TEXT NOT NULL DEFAULT '',
		size          INTEGER NOT NULL DEFAULT 0,
		hash          TEXT NOT NULL DEFAULT '',
		content       BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_restores_run ON restores(run_id);
	CREATE INDEX IF NOT EXISTS idx_restores_dest ON restores(dest_path);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the database connection and releases zstd resources.
func (j *Journal) Close() error {
	j.encoder.Close()
	j.decoder.Close()
	return j.db.Close()
}

func newUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// BeginRun records the start of a run and returns its ID.
func (j *Journal) BeginRun(historyDir, projectRoot string) (string, error) {
	id := newUUIDv7()
	_, err := j.db.Exec(
		`INSERT INTO runs (id, history_dir, project_root, started) VALUES (?, ?, ?, ?)`,
		id, historyDir, projectRoot, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}
	return id, nil
}

// RecordRestore stores one restore outcome. Content, when present, is stored
// zstd-compressed and its SHA-256 replaces r.Hash.
func (j *Journal) RecordRestore(runID string, r Restore) (string, error) {
	var compressed []byte
	if r.Content != nil {
		compressed = j.encoder.EncodeAll(r.Content, nil)
		r.Hash = sha256sum(r.Content)
		r.Size = int64(len(r.Content))
	}

	id := newUUIDv7()
	_, err := j.db.Exec(
		`INSERT INTO restores (id, run_id, original_path, dest_path, snapshot_path, group_time, status, error, size, hash, content)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, runID, r.OriginalPath, r.DestPath, r.SnapshotPath, r.GroupTime, r.Status, r.Error, r.Size, r.Hash, compressed,
	)
	if err != nil {
		return "", fmt.Errorf("inserting restore: %w", err)
	}
	return id, nil
}

// FinishRun stores the final counts of a run and prunes old runs.
func (j *Journal) FinishRun(runID string, groups, restored, failed int) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE runs SET finished = ?, groups_count = ?, restored = ?, failed = ? WHERE id = ?`,
		time.Now().Unix(), groups, restored, failed, runID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	if j.maxRuns > 0 {
		_, err = tx.Exec(
			`DELETE FROM runs WHERE id NOT IN (
				SELECT id FROM runs ORDER BY started DESC, id DESC LIMIT ?
			)`,
			j.maxRuns,
		)
		if err != nil {
			return fmt.Errorf("pruning old runs: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (j *Journal) ListRuns(limit int) ([]Run, error) {
	rows, err := j.db.Query(
		`SELECT id, history_dir, project_root, started, finished, groups_count, restored, failed
		 FROM runs
		 ORDER BY started DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.HistoryDir, &r.ProjectRoot, &r.Started, &r.Finished, &r.Groups, &r.Restored, &r.Failed); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRestores returns the restore records of a run, without content.
func (j *Journal) GetRestores(runID string) ([]Restore, error) {
	rows, err := j.db.Query(
		`SELECT id, run_id, original_path, dest_path, snapshot_path, group_time, status, error, size, hash
		 FROM restores
		 WHERE run_id = ?
		 ORDER BY group_time DESC, original_path ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting restores: %w", err)
	}
	defer rows.Close()

	var restores []Restore
	for rows.Next() {
		var r Restore
		if err := rows.Scan(&r.ID, &r.RunID, &r.OriginalPath, &r.DestPath, &r.SnapshotPath, &r.GroupTime, &r.Status, &r.Error, &r.Size, &r.Hash); err != nil {
			return nil, fmt.Errorf("scanning restore: %w", err)
		}
		restores = append(restores, r)
	}
	return restores, rows.Err()
}

// GetRestoreContent returns the decompressed content stored for a restore.
func (j *Journal) GetRestoreContent(id string) ([]byte, error) {
	var compressed []byte
	err := j.db.QueryRow(`SELECT content FROM restores WHERE id = ?`, id).Scan(&compressed)
	if err != nil {
		return nil, fmt.Errorf("getting restore content: %w", err)
	}
	if compressed == nil {
		return nil, nil
	}
	content, err := j.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing content: %w", err)
	}
	return content, nil
}

// GetStats returns aggregate statistics.
func (j *Journal) GetStats() (Stats, error) {
	var stats Stats
	err := j.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&stats.TotalRuns)
	if err != nil {
		return Stats{}, fmt.Errorf("counting runs: %w", err)
	}
	err = j.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM restores`).Scan(
		&stats.TotalRestores, &stats.TotalSize,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("counting restores: %w", err)
	}
	return stats, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
