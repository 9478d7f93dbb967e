package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/report-compose/composer/pkg/database"
)

// PostgresRunStore persists saved runs in the saved_runs table.
type PostgresRunStore struct {
	db *sql.DB
}

// NewPostgresRunStore creates a store over the database client.
func NewPostgresRunStore(client *database.Client) *PostgresRunStore {
	return &PostgresRunStore{db: client.DB()}
}

func (s *PostgresRunStore) Put(ctx context.Context, run SavedRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO saved_runs
		(run_id, prompt_set, focus, online, mock, prompt_set_yaml, graph_snapshot, report, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
		ON CONFLICT (run_id) DO UPDATE SET
			prompt_set = EXCLUDED.prompt_set,
			focus = EXCLUDED.focus,
			online = EXCLUDED.online,
			mock = EXCLUDED.mock,
			prompt_set_yaml = EXCLUDED.prompt_set_yaml,
			graph_snapshot = EXCLUDED.graph_snapshot,
			report = EXCLUDED.report,
			saved_at = EXCLUDED.saved_at`,
		run.RunID, run.PromptSet, run.Focus, run.Online, run.Mock,
		string(run.PromptSetYAML), string(run.Snapshot), run.Report, run.SavedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *PostgresRunStore) Get(ctx context.Context, runID string) (SavedRun, error) {
	var (
		run    SavedRun
		yaml   string
		snap   string
		report sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, prompt_set, focus, online, mock, prompt_set_yaml, graph_snapshot, report, saved_at
		FROM saved_runs WHERE run_id = $1`, runID).
		Scan(&run.RunID, &run.PromptSet, &run.Focus, &run.Online, &run.Mock,
			&yaml, &snap, &report, &run.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SavedRun{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return SavedRun{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	run.PromptSetYAML = []byte(yaml)
	run.Snapshot = []byte(snap)
	run.Report = report.String
	return run, nil
}

func (s *PostgresRunStore) List(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, prompt_set, focus, online, saved_at
		FROM saved_runs ORDER BY saved_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("list saved runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(&s.RunID, &s.PromptSet, &s.Focus, &s.Online, &s.SavedAt); err != nil {
			return nil, fmt.Errorf("scan saved run: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list saved runs: %w", err)
	}
	return out, nil
}

func (s *PostgresRunStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM saved_runs WHERE saved_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune saved runs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune saved runs: %w", err)
	}
	return int(affected), nil
}
