package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pointmatch/internal/match"
	"github.com/banshee-data/pointmatch/internal/rigid"
	"github.com/banshee-data/pointmatch/internal/timeutil"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("match run not found")

// DefaultListLimit caps ListRuns when the caller passes no limit.
const DefaultListLimit = 100

// Run is one persisted engine invocation.
type Run struct {
	ID         string          `json:"run_id"`
	CreatedAt  time.Time       `json:"created_at"`
	Tolerance  float64         `json:"tolerance"`
	Index      string          `json:"index"`
	Workers    int             `json:"workers"`
	ModelCount int             `json:"model_count"`
	SpaceCount int             `json:"space_count"`
	MatchCount int             `json:"match_count"`
	Elapsed    time.Duration   `json:"elapsed_ns"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// RunStore records match runs and their results.
type RunStore struct {
	db    *DB
	clock timeutil.Clock
}

// NewRunStore returns a store backed by db. A nil clock uses wall time.
func NewRunStore(db *DB, clock timeutil.Clock) *RunStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RunStore{db: db, clock: clock}
}

var matrixColumns = func() string {
	cols := make([]string, 0, 16)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			cols = append(cols, fmt.Sprintf("m%d%d", r, c))
		}
	}
	return strings.Join(cols, ", ")
}()

const runColumns = `run_id, created_at_ns, tolerance, index_kind, workers,
	model_count, space_count, match_count, elapsed_ns, params_json`

// InsertRun stores res and every match in a single transaction. params is
// marshalled to JSON as the run's invocation parameters; nil stores "{}".
func (s *RunStore) InsertRun(ctx context.Context, res *match.Result, params any) (*Run, error) {
	if res == nil {
		return nil, fmt.Errorf("insert run: nil result")
	}

	paramsJSON := []byte("{}")
	if params != nil {
		var err error
		if paramsJSON, err = json.Marshal(params); err != nil {
			return nil, fmt.Errorf("marshal run params: %w", err)
		}
	}

	run := &Run{
		ID:         uuid.NewString(),
		CreatedAt:  s.clock.Now().UTC(),
		Tolerance:  res.Tolerance,
		Index:      string(res.Index),
		Workers:    res.Workers,
		ModelCount: res.ModelCount,
		SpaceCount: res.SpaceCount,
		MatchCount: len(res.Matches),
		Elapsed:    res.Elapsed,
		Params:     paramsJSON,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO match_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt.UnixNano(), run.Tolerance, run.Index, run.Workers,
		run.ModelCount, run.SpaceCount, run.MatchCount, int64(run.Elapsed), string(run.Params))
	if err != nil {
		return nil, fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO match_results (run_id, ordinal, space_index, `+matrixColumns+`)
		VALUES (?, ?, ?`+strings.Repeat(", ?", 16)+`)`)
	if err != nil {
		return nil, fmt.Errorf("prepare match insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, 19)
	for i, m := range res.Matches {
		args[0], args[1], args[2] = run.ID, i, m.SpaceIndex
		for j, v := range m.Transform.Matrix() {
			args[3+j] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return nil, fmt.Errorf("insert match %d of run %s: %w", i, run.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	return run, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r         Run
		createdNs int64
		elapsedNs int64
		params    string
	)
	if err := row.Scan(&r.ID, &createdNs, &r.Tolerance, &r.Index, &r.Workers,
		&r.ModelCount, &r.SpaceCount, &r.MatchCount, &elapsedNs, &params); err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(0, createdNs).UTC()
	r.Elapsed = time.Duration(elapsedNs)
	r.Params = json.RawMessage(params)
	return &r, nil
}

// GetRun returns the run with the given id, or ErrRunNotFound.
func (s *RunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM match_runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means
// DefaultListLimit.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM match_runs
		ORDER BY created_at_ns DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListMatches returns a run's matches in their original order.
func (s *RunStore) ListMatches(ctx context.Context, id string) (match.MatchList, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT space_index, `+matrixColumns+`
		FROM match_results WHERE run_id = ? ORDER BY ordinal`, id)
	if err != nil {
		return nil, fmt.Errorf("list matches of run %s: %w", id, err)
	}
	defer rows.Close()

	matches := match.MatchList{}
	for rows.Next() {
		var (
			spaceIndex int
			m          [16]float64
		)
		dest := make([]any, 17)
		dest[0] = &spaceIndex
		for i := range m {
			dest[1+i] = &m[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		t, err := rigid.FromMatrix(m)
		if err != nil {
			return nil, fmt.Errorf("stored match %d of run %s: %w", len(matches), id, err)
		}
		matches = append(matches, match.Match{SpaceIndex: spaceIndex, Transform: t})
	}
	return matches, rows.Err()
}

// DeleteRun removes a run and its matches.
func (s *RunStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete run: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM match_results WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("delete matches of run %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM match_runs WHERE run_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return tx.Commit()
}
