package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed Store.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const disputeColumns = `id, job_id, milestone_id, client_id, freelancer_id, raised_by,
	reason, status::text, COALESCE(arbitrator_id, ''),
	resolution_kind, resolution_client_bps, resolution_freelancer_bps,
	created_at, updated_at, resolved_at`

func (s *PGStore) CreateDispute(ctx context.Context, d Dispute) (Dispute, error) {
	const query = `
		INSERT INTO disputes (job_id, milestone_id, client_id, freelancer_id, raised_by, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + disputeColumns

	row := s.pool.QueryRow(ctx, query,
		d.JobID, d.MilestoneID, d.Client, d.Freelancer, d.RaisedBy, d.Reason, string(d.Status))
	out, err := scanDispute(row)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: create: %w", err)
	}
	return out, nil
}

func (s *PGStore) GetDispute(ctx context.Context, id uint64) (Dispute, error) {
	const query = `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`

	out, err := scanDispute(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get: %w", err)
	}
	return out, nil
}

func (s *PGStore) UpdateDispute(ctx context.Context, d Dispute) (Dispute, error) {
	const query = `
		UPDATE disputes
		SET status = $2,
		    arbitrator_id = NULLIF($3, ''),
		    resolution_kind = $4,
		    resolution_client_bps = $5,
		    resolution_freelancer_bps = $6,
		    resolved_at = $7,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + disputeColumns

	var kind *string
	var clientBps, freelancerBps *uint32
	if d.Resolution != nil {
		k := string(d.Resolution.Kind)
		kind = &k
		clientBps = &d.Resolution.ClientBps
		freelancerBps = &d.Resolution.FreelancerBps
	}

	row := s.pool.QueryRow(ctx, query,
		d.ID, string(d.Status), d.Arbitrator, kind, clientBps, freelancerBps, d.ResolvedAt)
	out, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: update: %w", err)
	}
	return out, nil
}

func (s *PGStore) AppendEvidence(ctx context.Context, e Evidence) (Evidence, error) {
	const query = `
		INSERT INTO dispute_evidence (dispute_id, submitter, description, attachment)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := s.pool.QueryRow(ctx, query, e.DisputeID, e.Submitter, e.Description, e.Attachment).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return Evidence{}, fmt.Errorf("dispute: append evidence: %w", err)
	}
	return e, nil
}

func (s *PGStore) ListEvidence(ctx context.Context, disputeID uint64) ([]Evidence, error) {
	const query = `
		SELECT id, dispute_id, submitter, description, attachment, created_at
		FROM dispute_evidence
		WHERE dispute_id = $1
		ORDER BY id
	`
	rows, err := s.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list evidence: %w", err)
	}
	defer rows.Close()

	out := make([]Evidence, 0, 8)
	for rows.Next() {
		var e Evidence
		if err := rows.Scan(&e.ID, &e.DisputeID, &e.Submitter, &e.Description, &e.Attachment, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan evidence: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate evidence: %w", err)
	}
	return out, nil
}

func (s *PGStore) AppendMessage(ctx context.Context, m Message) (Message, error) {
	const query = `
		INSERT INTO dispute_messages (dispute_id, sender, body, private)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := s.pool.QueryRow(ctx, query, m.DisputeID, m.Sender, m.Body, m.Private).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("dispute: append message: %w", err)
	}
	return m, nil
}

func (s *PGStore) ListMessages(ctx context.Context, disputeID uint64) ([]Message, error) {
	const query = `
		SELECT id, dispute_id, sender, body, private, created_at
		FROM dispute_messages
		WHERE dispute_id = $1
		ORDER BY id
	`
	rows, err := s.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, 8)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.DisputeID, &m.Sender, &m.Body, &m.Private, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate messages: %w", err)
	}
	return out, nil
}

func (s *PGStore) AppendVote(ctx context.Context, v Vote) (Vote, error) {
	const query = `
		INSERT INTO dispute_votes (dispute_id, arbitrator_id, resolution_kind, resolution_client_bps, resolution_freelancer_bps)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := s.pool.QueryRow(ctx, query,
		v.DisputeID, v.Arbitrator, string(v.Resolution.Kind), v.Resolution.ClientBps, v.Resolution.FreelancerBps).
		Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return Vote{}, fmt.Errorf("dispute: append vote: %w", err)
	}
	return v, nil
}

func (s *PGStore) ListVotes(ctx context.Context, disputeID uint64) ([]Vote, error) {
	const query = `
		SELECT id, dispute_id, arbitrator_id, resolution_kind, resolution_client_bps, resolution_freelancer_bps, created_at
		FROM dispute_votes
		WHERE dispute_id = $1
		ORDER BY id
	`
	rows, err := s.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list votes: %w", err)
	}
	defer rows.Close()

	out := make([]Vote, 0, 4)
	for rows.Next() {
		var v Vote
		var kind string
		if err := rows.Scan(&v.ID, &v.DisputeID, &v.Arbitrator, &kind, &v.Resolution.ClientBps, &v.Resolution.FreelancerBps, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan vote: %w", err)
		}
		v.Resolution.Kind = ResolutionKind(kind)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate votes: %w", err)
	}
	return out, nil
}

func (s *PGStore) AddArbitrator(ctx context.Context, arbitratorID string) error {
	const query = `INSERT INTO arbitrators (identity) VALUES ($1)`
	if _, err := s.pool.Exec(ctx, query, arbitratorID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateArbitrator
		}
		return fmt.Errorf("dispute: add arbitrator: %w", err)
	}
	return nil
}

func (s *PGStore) RemoveArbitrator(ctx context.Context, arbitratorID string) error {
	const query = `DELETE FROM arbitrators WHERE identity = $1`
	tag, err := s.pool.Exec(ctx, query, arbitratorID)
	if err != nil {
		return fmt.Errorf("dispute: remove arbitrator: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownArbitrator
	}
	return nil
}

func (s *PGStore) IsArbitrator(ctx context.Context, arbitratorID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM arbitrators WHERE identity = $1)`
	var ok bool
	if err := s.pool.QueryRow(ctx, query, arbitratorID).Scan(&ok); err != nil {
		return false, fmt.Errorf("dispute: arbitrator exists: %w", err)
	}
	return ok, nil
}

func (s *PGStore) ListArbitrators(ctx context.Context) ([]string, error) {
	const query = `SELECT identity FROM arbitrators ORDER BY identity`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dispute: list arbitrators: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("dispute: scan arbitrator: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate arbitrators: %w", err)
	}
	return out, nil
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var d Dispute
	var kind *string
	var clientBps, freelancerBps *uint32
	err := row.Scan(&d.ID, &d.JobID, &d.MilestoneID, &d.Client, &d.Freelancer, &d.RaisedBy,
		&d.Reason, &d.Status, &d.Arbitrator,
		&kind, &clientBps, &freelancerBps,
		&d.CreatedAt, &d.UpdatedAt, &d.ResolvedAt)
	if err != nil {
		return Dispute{}, err
	}
	if kind != nil {
		res := Resolution{Kind: ResolutionKind(*kind)}
		if clientBps != nil {
			res.ClientBps = *clientBps
		}
		if freelancerBps != nil {
			res.FreelancerBps = *freelancerBps
		}
		d.Resolution = &res
	}
	return d, nil
}
