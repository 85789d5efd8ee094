package escrow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"escrowflow/ledger"
)

const (
	testManager  = "svc-job-manager"
	testCustody  = "svc-escrow"
	testPlatform = "platform-wallet"
	testClient   = "user-client"
	testWorker   = "user-freelancer"
)

func newTestEngine(t *testing.T) (*Engine, *ledger.Sim, *MemoryStore) {
	t.Helper()
	sim := ledger.NewSim()
	store := NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(store, sim, log, Config{
		Custodian:         testCustody,
		PlatformWallet:    testPlatform,
		ManagerIdentities: []string{testManager},
	})
	return engine, sim, store
}

func fundedEscrow(t *testing.T, engine *Engine, sim *ledger.Sim, jobID uint64, total uint64, feeBps uint32) Account {
	t.Helper()
	ctx := context.Background()
	account, err := engine.CreateEscrow(ctx, testManager, jobID, testClient, total, feeBps)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if err := engine.SetFreelancer(ctx, testManager, jobID, testWorker); err != nil {
		t.Fatalf("set freelancer: %v", err)
	}
	sim.Mint(ledger.AccountRef{Owner: testClient}, total+ledger.DefaultFee)
	if _, err := engine.Deposit(ctx, testClient, jobID); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return account
}

func TestCreateEscrow_FixesPlatformFee(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	account, err := engine.CreateEscrow(context.Background(), testManager, 7, testClient, 150_000_000, 500)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	if account.PlatformFee != 7_500_000 {
		t.Fatalf("expected platform fee 7500000 got %d", account.PlatformFee)
	}
	if account.Subaccount != SubaccountFor(7) {
		t.Fatal("expected deterministic subaccount")
	}

	if _, err := engine.CreateEscrow(context.Background(), testManager, 7, testClient, 1_000_000, 100); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestCreateEscrow_RejectsFeeAboveCap(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.CreateEscrow(context.Background(), testManager, 1, testClient, 1_000_000, MaxFeeBps+1)
	if !errors.Is(err, ErrFeeTooHigh) {
		t.Fatalf("expected ErrFeeTooHigh, got %v", err)
	}
}

func TestCreateEscrow_UnauthorizedCaller(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.CreateEscrow(context.Background(), "somebody", 1, testClient, 1_000_000, 100)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestDeposit_OnlyClient(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.CreateEscrow(context.Background(), testManager, 1, testClient, 1_000_000, 100); err != nil {
		t.Fatalf("create escrow: %v", err)
	}

	if _, err := engine.Deposit(context.Background(), testWorker, 1); !errors.Is(err, ErrNotClient) {
		t.Fatalf("expected ErrNotClient, got %v", err)
	}
}

func TestDeposit_RetryableAfterFailure(t *testing.T) {
	engine, sim, store := newTestEngine(t)
	ctx := context.Background()
	if _, err := engine.CreateEscrow(ctx, testManager, 1, testClient, 1_000_000, 100); err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	sim.Mint(ledger.AccountRef{Owner: testClient}, 2_000_000)

	sim.FailNext(ledger.CodeUnavailable)
	_, err := engine.Deposit(ctx, testClient, 1)
	te, ok := ledger.AsTransferError(err)
	if !ok || te.Code != ledger.CodeUnavailable {
		t.Fatalf("expected wrapped unavailable transfer error, got %v", err)
	}

	// No Transaction record may exist unless the transfer reported success.
	txs, err := store.ListTransactions(ctx, 1)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected no transactions after failed deposit, got %d", len(txs))
	}

	tx, err := engine.Deposit(ctx, testClient, 1)
	if err != nil {
		t.Fatalf("retry deposit: %v", err)
	}
	if tx.Kind != KindDeposit || tx.Amount != 1_000_000 {
		t.Fatalf("unexpected deposit record: %+v", tx)
	}

	sub := SubaccountFor(1)
	held := sim.Balance(ledger.AccountRef{Owner: testCustody, Subaccount: &sub})
	if held != 1_000_000 {
		t.Fatalf("expected custodial balance 1000000 got %d", held)
	}
}

func TestRelease_PaysFreelancerAndPlatform(t *testing.T) {
	engine, sim, _ := newTestEngine(t)
	ctx := context.Background()
	fundedEscrow(t, engine, sim, 1, 150_000_000, 500)

	tx, err := engine.ReleaseMilestoneFunds(ctx, testManager, 1, 0, 50_000_000)
	if err != nil {
		t.Fatalf("release: %v", err)
	}

	// fee = floor(50e6 * 7.5e6 / 150e6) = 2_500_000, payee share 47_500_000.
	if tx.Amount != 47_500_000 {
		t.Fatalf("expected release record of 47500000 got %d", tx.Amount)
	}
	if got := sim.Balance(ledger.AccountRef{Owner: testWorker}); got != 47_500_000-ledger.DefaultFee {
		t.Fatalf("freelancer balance: expected %d got %d", 47_500_000-ledger.DefaultFee, got)
	}
	if got := sim.Balance(ledger.AccountRef{Owner: testPlatform}); got != 2_500_000-ledger.DefaultFee {
		t.Fatalf("platform balance: expected %d got %d", 2_500_000-ledger.DefaultFee, got)
	}

	account, err := engine.Account(ctx, testClient, 1)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.ReleasedAmount != 50_000_000 {
		t.Fatalf("expected released 50000000 got %d", account.ReleasedAmount)
	}

	txs, err := engine.Transactions(ctx, testWorker, 1)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	var kinds []TransactionKind
	for _, rec := range txs {
		kinds = append(kinds, rec.Kind)
	}
	want := []TransactionKind{KindDeposit, KindMilestoneRelease, KindPlatformFee}
	if len(kinds) != len(want) {
		t.Fatalf("expected kinds %v got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected kinds %v got %v", want, kinds)
		}
	}
}

func TestRelease_OverReleaseGuard(t *testing.T) {
	engine, sim, _ := newTestEngine(t)
	ctx := context.Background()
	fundedEscrow(t, engine, sim, 1, 150_000_000, 500)

	if _, err := engine.ReleaseMilestoneFunds(ctx, testManager, 1, 0, 100_000_000); err != nil {
		t.Fatalf("first release: %v", err)
	}

	_, err := engine.ReleaseMilestoneFunds(ctx, testManager, 1, 1, 60_000_000)
	if !errors.Is(err, ErrOverRelease) {
		t.Fatalf("expected ErrOverRelease, got %v", err)
	}

	account, err := engine.Account(ctx, testClient, 1)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.ReleasedAmount != 100_000_000 {
		t.Fatalf("released amount changed on rejected release: %d", account.ReleasedAmount)
	}
}

func TestRelease_RequiresFreelancer(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()
	if _, err := engine.CreateEscrow(ctx, testManager, 1, testClient, 150_000_000, 500); err != nil {
		t.Fatalf("create escrow: %v", err)
	}

	_, err := engine.ReleaseMilestoneFunds(ctx, testManager, 1, 0, 50_000_000)
	if !errors.Is(err, ErrNoFreelancer) {
		t.Fatalf("expected ErrNoFreelancer, got %v", err)
	}
}

func TestRelease_LedgerFailureLeavesStateUntouched(t *testing.T) {
	engine, sim, store := newTestEngine(t)
	ctx := context.Background()
	fundedEscrow(t, engine, sim, 1, 150_000_000, 500)

	sim.FailNext(ledger.CodeUnavailable)
	_, err := engine.ReleaseMilestoneFunds(ctx, testManager, 1, 0, 50_000_000)
	if te, ok := ledger.AsTransferError(err); !ok || te.Code != ledger.CodeUnavailable {
		t.Fatalf("expected wrapped transfer error, got %v", err)
	}

	account, err := engine.Account(ctx, testClient, 1)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.ReleasedAmount != 0 {
		t.Fatalf("released amount mutated before confirmed transfer: %d", account.ReleasedAmount)
	}
	txs, _ := store.ListTransactions(ctx, 1)
	if len(txs) != 1 { // only the deposit
		t.Fatalf("expected only the deposit record, got %d records", len(txs))
	}
}

func TestRelease_FeeFailureIsNonFatal(t *testing.T) {
	engine, sim, _ := newTestEngine(t)
	ctx := context.Background()
	fundedEscrow(t, engine, sim, 1, 150_000_000, 500)

	// Reject only the fee leg; the payee transfer goes through.
	sim.Intercept(func(req ledger.TransferRequest) *ledger.TransferError {
		if req.To.Owner == testPlatform {
			return ledger.NewTransferError(ledger.CodeUnavailable, "fee leg down")
		}
		return nil
	})

	tx, err := engine.ReleaseMilestoneFunds(ctx, testManager, 1, 0, 50_000_000)
	if err != nil {
		t.Fatalf("release must not fail on a fee-collection fault: %v", err)
	}
	if tx.Kind != KindMilestoneRelease {
		t.Fatalf("expected milestone release record, got %s", tx.Kind)
	}

	if got := sim.Balance(ledger.AccountRef{Owner: testWorker}); got != 47_500_000-ledger.DefaultFee {
		t.Fatalf("freelancer was not paid: balance %d", got)
	}
	if got := sim.Balance(ledger.AccountRef{Owner: testPlatform}); got != 0 {
		t.Fatalf("platform unexpectedly received %d", got)
	}

	account, err := engine.Account(ctx, testClient, 1)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.ReleasedAmount != 50_000_000 {
		t.Fatalf("released amount must stand despite fee failure: %d", account.ReleasedAmount)
	}

	if gaps := engine.FeeGaps(); gaps != 1 {
		t.Fatalf("expected 1 recorded fee gap, got %d", gaps)
	}

	// Only deposit + release records exist; the failed fee leg produced none.
	txs, err := engine.Transactions(ctx, testClient, 1)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transaction records, got %d", len(txs))
	}
}

func TestRefund_ReturnsRemainderAndClosesAccount(t *testing.T) {
	engine, sim, _ := newTestEngine(t)
	ctx := context.Background()
	fundedEscrow(t, engine, sim, 1, 150_000_000, 500)

	if _, err := engine.ReleaseMilestoneFunds(ctx, testManager, 1, 0, 50_000_000); err != nil {
		t.Fatalf("release: %v", err)
	}

	clientBefore := sim.Balance(ledger.AccountRef{Owner: testClient})
	tx, err := engine.Refund(ctx, testManager, 1)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if tx.Kind != KindRefund || tx.Amount != 100_000_000 {
		t.Fatalf("unexpected refund record: %+v", tx)
	}
	if got := sim.Balance(ledger.AccountRef{Owner: testClient}); got != clientBefore+100_000_000-ledger.DefaultFee {
		t.Fatalf("client balance after refund: %d", got)
	}

	account, err := engine.Account(ctx, testClient, 1)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.ReleasedAmount != account.TotalAmount {
		t.Fatalf("expected fully released account, got %d/%d", account.ReleasedAmount, account.TotalAmount)
	}

	// A second refund finds nothing to return and changes nothing.
	if _, err := engine.Refund(ctx, testManager, 1); !errors.Is(err, ErrNothingToRefund) {
		t.Fatalf("expected ErrNothingToRefund, got %v", err)
	}
}

func TestRefund_LedgerFailureLeavesStateUntouched(t *testing.T) {
	engine, sim, _ := newTestEngine(t)
	ctx := context.Background()
	fundedEscrow(t, engine, sim, 1, 150_000_000, 500)

	sim.FailNext(ledger.CodeUnavailable)
	if _, err := engine.Refund(ctx, testManager, 1); err == nil {
		t.Fatal("expected refund failure")
	}

	account, err := engine.Account(ctx, testClient, 1)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.ReleasedAmount != 0 {
		t.Fatalf("released amount mutated on failed refund: %d", account.ReleasedAmount)
	}
}

func TestQueries_RequirePartyOrManager(t *testing.T) {
	engine, sim, _ := newTestEngine(t)
	ctx := context.Background()
	fundedEscrow(t, engine, sim, 1, 150_000_000, 500)

	if _, err := engine.Account(ctx, "stranger", 1); !errors.Is(err, ErrNotParty) {
		t.Fatalf("expected ErrNotParty, got %v", err)
	}
	if _, err := engine.Transactions(ctx, "stranger", 1); !errors.Is(err, ErrNotParty) {
		t.Fatalf("expected ErrNotParty, got %v", err)
	}
	if _, err := engine.Account(ctx, testManager, 1); err != nil {
		t.Fatalf("manager query: %v", err)
	}
}
