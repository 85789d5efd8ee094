package escrow

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/db"
)

// TestPGStore_Integration connects to a real PostgreSQL via DATABASE_URL and
// verifies the account and transaction repositories end to end.
func TestPGStore_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := NewPGStore(pool)

	// Unique id per run so repeated runs against a shared database don't collide.
	jobID := uint64(time.Now().UnixNano())
	now := time.Now().UTC()

	account := Account{
		JobID:       jobID,
		Client:      "client-integration",
		TotalAmount: 10_000_000,
		PlatformFee: 500_000,
		Subaccount:  SubaccountFor(jobID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.CreateAccount(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := store.CreateAccount(ctx, account); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("duplicate create: expected ErrAccountExists got %v", err)
	}

	got, err := store.GetAccount(ctx, jobID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.Client != account.Client || got.TotalAmount != account.TotalAmount || got.Freelancer != "" {
		t.Fatalf("get account: unexpected row %+v", got)
	}
	if got.Subaccount != account.Subaccount {
		t.Fatalf("get account: subaccount round-trip mismatch")
	}

	if _, err := store.GetAccount(ctx, jobID+1); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("missing account: expected ErrAccountNotFound got %v", err)
	}

	if err := store.SetFreelancer(ctx, jobID, "worker-integration"); err != nil {
		t.Fatalf("set freelancer: %v", err)
	}
	if err := store.SetFreelancer(ctx, jobID+1, "worker-integration"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("set freelancer on missing: expected ErrAccountNotFound got %v", err)
	}

	updated, err := store.AddReleased(ctx, jobID, 4_000_000)
	if err != nil {
		t.Fatalf("add released: %v", err)
	}
	if updated.ReleasedAmount != 4_000_000 || updated.Freelancer != "worker-integration" {
		t.Fatalf("add released: unexpected row %+v", updated)
	}

	m := 0
	tx, err := store.AppendTransaction(ctx, Transaction{
		JobID:         jobID,
		MilestoneID:   &m,
		Source:        "escrow-custodian",
		Destination:   "worker-integration",
		Amount:        3_800_000,
		Kind:          KindMilestoneRelease,
		SettlementRef: 42,
		CreatedAt:     now,
	})
	if err != nil {
		t.Fatalf("append transaction: %v", err)
	}
	if tx.ID == 0 {
		t.Fatalf("append transaction: id not assigned")
	}

	txs, err := store.ListTransactions(ctx, jobID)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("list transactions: expected 1 got %d", len(txs))
	}
	if txs[0].MilestoneID == nil || *txs[0].MilestoneID != 0 || txs[0].Kind != KindMilestoneRelease {
		t.Fatalf("list transactions: unexpected row %+v", txs[0])
	}
}
