package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
)

// Postgres stores runs and suspensions in two tables; see the migrations
// directory for the schema.
type Postgres struct {
	DB *sql.DB
}

// OpenPostgres connects and pings.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Postgres{DB: db}, nil
}

func (p *Postgres) Close() error { return p.DB.Close() }

func (p *Postgres) CreateRun(ctx context.Context, run WorkflowRun) error {
	_, err := p.DB.ExecContext(ctx,
		`INSERT INTO workflow_runs (run_id, query, status, current_step_id, checkpoint) VALUES ($1,$2,$3,$4,$5)`,
		run.RunID, run.Query, run.Status, run.CurrentStepID, blob(run.Checkpoint))
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrExists
	}
	return err
}

func (p *Postgres) GetRun(ctx context.Context, runID string) (WorkflowRun, error) {
	var run WorkflowRun
	var result sql.NullString
	var errMsg sql.NullString
	err := p.DB.QueryRowContext(ctx,
		`SELECT run_id, query, status, current_step_id, checkpoint, result, error, created_at, updated_at
		 FROM workflow_runs WHERE run_id=$1`, runID).
		Scan(&run.RunID, &run.Query, &run.Status, &run.CurrentStepID, &run.Checkpoint, &result, &errMsg, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkflowRun{}, ErrNotFound
	}
	if err != nil {
		return WorkflowRun{}, err
	}
	if result.Valid {
		run.Result = json.RawMessage(result.String)
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return run, nil
}

func (p *Postgres) UpdateRun(ctx context.Context, run WorkflowRun) error {
	res, err := p.DB.ExecContext(ctx,
		`UPDATE workflow_runs SET status=$2, current_step_id=$3, checkpoint=$4, result=$5, error=$6, updated_at=now() WHERE run_id=$1`,
		run.RunID, run.Status, run.CurrentStepID, blob(run.Checkpoint), nullBlob(run.Result), nullString(run.Error))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Suspend(ctx context.Context, runID, stepID string, payload json.RawMessage) error {
	res, err := p.DB.ExecContext(ctx,
		`INSERT INTO workflow_suspensions (run_id, step_id, payload, is_suspended, suspended_at)
		 VALUES ($1,$2,$3,TRUE,now())
		 ON CONFLICT (run_id) DO UPDATE
		 SET step_id=EXCLUDED.step_id, payload=EXCLUDED.payload, is_suspended=TRUE,
		     suspended_at=now(), resume_payload=NULL, resumed_at=NULL`,
		runID, stepID, blob(payload))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
			return ErrNotFound
		}
		return err
	}
	_, err = res.RowsAffected()
	return err
}

func (p *Postgres) GetSuspension(ctx context.Context, runID string) (Suspension, error) {
	var s Suspension
	var resume sql.NullString
	var resumedAt sql.NullTime
	err := p.DB.QueryRowContext(ctx,
		`SELECT run_id, step_id, payload, resume_payload, is_suspended, suspended_at, resumed_at
		 FROM workflow_suspensions WHERE run_id=$1`, runID).
		Scan(&s.RunID, &s.StepID, &s.Payload, &resume, &s.Active, &s.SuspendedAt, &resumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Suspension{}, ErrNotFound
	}
	if err != nil {
		return Suspension{}, err
	}
	if resume.Valid {
		s.ResumePayload = json.RawMessage(resume.String)
	}
	if resumedAt.Valid {
		t := resumedAt.Time
		s.ResumedAt = &t
	}
	return s, nil
}

// Resume flips the suspension inactive only when the run is suspended at
// exactly stepID. A second resume, or a resume against the wrong step, loses
// the conditional update and reports a conflict.
func (p *Postgres) Resume(ctx context.Context, runID, stepID string, resumePayload json.RawMessage) error {
	res, err := p.DB.ExecContext(ctx,
		`UPDATE workflow_suspensions SET is_suspended=FALSE, resume_payload=$3, resumed_at=now()
		 WHERE run_id=$1 AND step_id=$2 AND is_suspended=TRUE`,
		runID, stepID, blob(resumePayload))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := p.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_suspensions WHERE run_id=$1)`, runID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return ErrConflict
	}
	return ErrNotFound
}

func (p *Postgres) ListSuspendedBefore(ctx context.Context, cutoff time.Time) ([]Suspension, error) {
	rows, err := p.DB.QueryContext(ctx,
		`SELECT run_id, step_id, payload, is_suspended, suspended_at
		 FROM workflow_suspensions WHERE is_suspended=TRUE AND suspended_at < $1
		 ORDER BY suspended_at`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Suspension
	for rows.Next() {
		var s Suspension
		if err := rows.Scan(&s.RunID, &s.StepID, &s.Payload, &s.Active, &s.SuspendedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func blob(b json.RawMessage) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}

func nullBlob(b json.RawMessage) interface{} {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
