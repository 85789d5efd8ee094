package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed Store. Milestones live in their own table
// keyed by (job_id, position); UpdateJob rewrites them inside the job's
// transaction so a record never carries a half-updated milestone list.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) CreateJob(ctx context.Context, j Job) (Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertJob = `
		INSERT INTO jobs (client_id, freelancer_id, title, total_amount, fee_bps, status)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRow(ctx, insertJob,
		j.Client, j.Freelancer, j.Title, j.TotalAmount, j.FeeBps, string(j.Status)).
		Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return Job{}, fmt.Errorf("job: create: %w", err)
	}

	if err := insertMilestones(ctx, tx, j.ID, j.Milestones); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit create: %w", err)
	}
	return j, nil
}

func (s *PGStore) GetJob(ctx context.Context, id uint64) (Job, error) {
	const query = `
		SELECT id, client_id, COALESCE(freelancer_id, ''), title, total_amount, fee_bps, status::text, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`
	var j Job
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&j.ID, &j.Client, &j.Freelancer, &j.Title, &j.TotalAmount, &j.FeeBps, &j.Status, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("job: get: %w", err)
	}

	j.Milestones, err = s.listMilestones(ctx, id)
	if err != nil {
		return Job{}, err
	}
	return j, nil
}

func (s *PGStore) UpdateJob(ctx context.Context, j Job) (Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const updateJob = `
		UPDATE jobs
		SET freelancer_id = NULLIF($2, ''),
		    status = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, updateJob, j.ID, j.Freelancer, string(j.Status)).
		Scan(&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("job: update: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM milestones WHERE job_id = $1`, j.ID); err != nil {
		return Job{}, fmt.Errorf("job: clear milestones: %w", err)
	}
	if err := insertMilestones(ctx, tx, j.ID, j.Milestones); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit update: %w", err)
	}
	return j, nil
}

func (s *PGStore) DeleteJob(ctx context.Context, id uint64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("job: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ListByParty(ctx context.Context, userID string) ([]Job, error) {
	const query = `
		SELECT id, client_id, COALESCE(freelancer_id, ''), title, total_amount, fee_bps, status::text, created_at, updated_at
		FROM jobs
		WHERE client_id = $1 OR freelancer_id = $1
		ORDER BY id
	`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("job: list: %w", err)
	}
	defer rows.Close()

	out := make([]Job, 0, 8)
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Client, &j.Freelancer, &j.Title, &j.TotalAmount, &j.FeeBps, &j.Status, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("job: scan: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job: iterate: %w", err)
	}

	for i := range out {
		out[i].Milestones, err = s.listMilestones(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PGStore) listMilestones(ctx context.Context, jobID uint64) ([]Milestone, error) {
	const query = `
		SELECT position, description, amount, status::text, submitted_at, approved_at, released_at
		FROM milestones
		WHERE job_id = $1
		ORDER BY position
	`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("job: list milestones: %w", err)
	}
	defer rows.Close()

	out := make([]Milestone, 0, 4)
	for rows.Next() {
		var m Milestone
		if err := rows.Scan(&m.ID, &m.Description, &m.Amount, &m.Status, &m.SubmittedAt, &m.ApprovedAt, &m.ReleasedAt); err != nil {
			return nil, fmt.Errorf("job: scan milestone: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job: iterate milestones: %w", err)
	}
	return out, nil
}

func insertMilestones(ctx context.Context, tx pgx.Tx, jobID uint64, milestones []Milestone) error {
	const query = `
		INSERT INTO milestones (job_id, position, description, amount, status, submitted_at, approved_at, released_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, m := range milestones {
		_, err := tx.Exec(ctx, query,
			jobID, m.ID, m.Description, m.Amount, string(m.Status), m.SubmittedAt, m.ApprovedAt, m.ReleasedAt)
		if err != nil {
			return fmt.Errorf("job: insert milestone %d: %w", m.ID, err)
		}
	}
	return nil
}
