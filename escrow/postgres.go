package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/ledger"
)

// PGStore implements Store backed by PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PostgreSQL-backed escrow store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (r *PGStore) CreateAccount(ctx context.Context, account Account) error {
	const insertSQL = `
		INSERT INTO escrow_accounts (job_id, client, freelancer, total_amount, platform_fee, released_amount, subaccount, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, insertSQL,
		account.JobID,
		account.Client,
		account.Freelancer,
		account.TotalAmount,
		account.PlatformFee,
		account.ReleasedAmount,
		account.Subaccount[:],
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAccountExists
		}
		return fmt.Errorf("escrow: create account: %w", err)
	}
	return nil
}

func (r *PGStore) GetAccount(ctx context.Context, jobID uint64) (Account, error) {
	const selectSQL = `
		SELECT job_id, client, COALESCE(freelancer, ''), total_amount, platform_fee, released_amount, subaccount, created_at, updated_at
		FROM escrow_accounts
		WHERE job_id = $1
	`

	account, err := scanAccount(r.pool.QueryRow(ctx, selectSQL, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("escrow: get account: %w", err)
	}
	return account, nil
}

func (r *PGStore) SetFreelancer(ctx context.Context, jobID uint64, freelancer string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE escrow_accounts SET freelancer = $1, updated_at = now() WHERE job_id = $2`,
		freelancer, jobID)
	if err != nil {
		return fmt.Errorf("escrow: set freelancer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *PGStore) AddReleased(ctx context.Context, jobID uint64, delta uint64) (Account, error) {
	const updateSQL = `
		UPDATE escrow_accounts
		SET released_amount = released_amount + $1, updated_at = now()
		WHERE job_id = $2
		RETURNING job_id, client, COALESCE(freelancer, ''), total_amount, platform_fee, released_amount, subaccount, created_at, updated_at
	`

	account, err := scanAccount(r.pool.QueryRow(ctx, updateSQL, delta, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("escrow: add released: %w", err)
	}
	return account, nil
}

func (r *PGStore) AppendTransaction(ctx context.Context, tx Transaction) (Transaction, error) {
	const insertSQL = `
		INSERT INTO escrow_transactions (job_id, milestone_id, source, destination, amount, kind, settlement_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	err := r.pool.QueryRow(ctx, insertSQL,
		tx.JobID,
		tx.MilestoneID,
		tx.Source,
		tx.Destination,
		tx.Amount,
		tx.Kind,
		tx.SettlementRef,
		tx.CreatedAt,
	).Scan(&tx.ID)
	if err != nil {
		return Transaction{}, fmt.Errorf("escrow: append transaction: %w", err)
	}
	return tx, nil
}

func (r *PGStore) ListTransactions(ctx context.Context, jobID uint64) ([]Transaction, error) {
	const selectSQL = `
		SELECT id, job_id, milestone_id, source, destination, amount, kind, settlement_ref, created_at
		FROM escrow_transactions
		WHERE job_id = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, selectSQL, jobID)
	if err != nil {
		return nil, fmt.Errorf("escrow: list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]Transaction, 0, 8)
	for rows.Next() {
		var tx Transaction
		if err := rows.Scan(&tx.ID, &tx.JobID, &tx.MilestoneID, &tx.Source, &tx.Destination, &tx.Amount, &tx.Kind, &tx.SettlementRef, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("escrow: scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate transactions: %w", err)
	}
	return out, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		account Account
		sub     []byte
	)
	err := row.Scan(
		&account.JobID,
		&account.Client,
		&account.Freelancer,
		&account.TotalAmount,
		&account.PlatformFee,
		&account.ReleasedAmount,
		&sub,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	if len(sub) == len(ledger.Subaccount{}) {
		copy(account.Subaccount[:], sub)
	}
	return account, nil
}
