// Package ledger keeps a SQLite record of PINT runs for quality control:
// one row per run and one row per refined vertex.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pintsurf/internal/models"
)

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("ledger: run not found")

// Store wraps the SQLite database.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            started_at TEXT NOT NULL,
            finished_at TEXT NOT NULL,
            func_path TEXT,
            table_path TEXT,
            state TEXT NOT NULL,
            repair_state TEXT,
            iterations INTEGER NOT NULL,
            config_json TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS vertices (
            run_id TEXT NOT NULL,
            roiidx INTEGER NOT NULL,
            hemi TEXT NOT NULL,
            network TEXT NOT NULL,
            tvertex INTEGER NOT NULL,
            ivertex INTEGER NOT NULL,
            distance REAL NOT NULL,
            limits_ok BOOLEAN NOT NULL,
            PRIMARY KEY (run_id, roiidx)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_vertices_run_id ON vertices(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Run is one recorded refinement.
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	FuncPath    string
	TablePath   string
	State       string
	RepairState string
	Iterations  int
	ConfigJSON  string

	Vertices models.Table
}

// VertexRow is one recorded vertex result.
type VertexRow struct {
	ROI      int
	Hemi     string
	Network  string
	TVertex  int
	IVertex  int
	Distance float64
	LimitsOK bool
}

// NewRunID returns a fresh run id.
func NewRunID() string { return uuid.NewString() }

// RecordRun stores a run and its vertices in one transaction.
func (s *Store) RecordRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = NewRunID()
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
        (id, started_at, finished_at, func_path, table_path, state, repair_state, iterations, config_json)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.FuncPath, run.TablePath, run.State, run.RepairState, run.Iterations, run.ConfigJSON)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO vertices
        (run_id, roiidx, hemi, network, tvertex, ivertex, distance, limits_ok)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, v := range run.Vertices {
		if _, err := stmt.ExecContext(ctx, run.ID, v.ROI, v.Hemi.String(), v.Network,
			v.Origin, v.Final, v.FinalDistance, v.LimitsOK); err != nil {
			return fmt.Errorf("insert vertex %d: %w", v.ROI, err)
		}
	}
	return tx.Commit()
}

// GetRun returns the run header of id without its vertices.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id, started_at, finished_at, func_path, table_path,
        state, repair_state, iterations, config_json FROM runs WHERE id = ?`, id)

	var r Run
	var started, finished string
	var funcPath, tablePath, repair, cfg sql.NullString
	err := row.Scan(&r.ID, &started, &finished, &funcPath, &tablePath, &r.State, &repair, &r.Iterations, &cfg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	r.FuncPath, r.TablePath, r.RepairState, r.ConfigJSON = funcPath.String, tablePath.String, repair.String, cfg.String
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, err
	}
	if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return nil, err
	}
	return &r, nil
}

// Vertices returns the vertex rows of a run ordered by roiidx.
func (s *Store) Vertices(ctx context.Context, runID string) ([]VertexRow, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT roiidx, hemi, network, tvertex, ivertex, distance, limits_ok
        FROM vertices WHERE run_id = ? ORDER BY roiidx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VertexRow
	for rows.Next() {
		var v VertexRow
		if err := rows.Scan(&v.ROI, &v.Hemi, &v.Network, &v.TVertex, &v.IVertex, &v.Distance, &v.LimitsOK); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
