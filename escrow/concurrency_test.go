package escrow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"escrowflow/ledger"
)

// Overlapping release requests must never push ReleasedAmount past
// TotalAmount; conflicting requests are rejected, not queued.
func TestRelease_ConcurrentOverReleaseRejected(t *testing.T) {
	engine, sim, _ := newTestEngine(t)
	ctx := context.Background()
	fundedEscrow(t, engine, sim, 1, 100_000_000, 500)

	var succeeded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		milestone := i
		g.Go(func() error {
			_, err := engine.ReleaseMilestoneFunds(gctx, testManager, 1, milestone, 30_000_000)
			if err == nil {
				succeeded.Add(1)
				return nil
			}
			if errors.Is(err, ErrOverRelease) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}

	// 100M held, 30M per release: exactly 3 can settle.
	if got := succeeded.Load(); got != 3 {
		t.Fatalf("expected 3 successful releases, got %d", got)
	}

	account, err := engine.Account(ctx, testManager, 1)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.ReleasedAmount > account.TotalAmount {
		t.Fatalf("released %d exceeds total %d", account.ReleasedAmount, account.TotalAmount)
	}
	if account.ReleasedAmount != 90_000_000 {
		t.Fatalf("expected released 90000000 got %d", account.ReleasedAmount)
	}
}

// Concurrent deposits of the same job settle exactly once; the duplicate is
// rejected by the ledger's memo dedup and leaves no audit record behind.
func TestDeposit_ConcurrentDuplicateSettlesOnce(t *testing.T) {
	engine, sim, store := newTestEngine(t)
	ctx := context.Background()
	if _, err := engine.CreateEscrow(ctx, testManager, 1, testClient, 1_000_000, 100); err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	sim.Mint(ledger.AccountRef{Owner: testClient}, 10_000_000)

	g, gctx := errgroup.WithContext(ctx)
	var succeeded atomic.Int64
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			_, err := engine.Deposit(gctx, testClient, 1)
			if err == nil {
				succeeded.Add(1)
				return nil
			}
			if te, ok := ledger.AsTransferError(err); ok && te.Code == ledger.CodeDuplicate {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected deposit error: %v", err)
	}
	if got := succeeded.Load(); got != 1 {
		t.Fatalf("expected exactly 1 settled deposit, got %d", got)
	}

	txs, err := store.ListTransactions(ctx, 1)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected 1 deposit record, got %d", len(txs))
	}
}
