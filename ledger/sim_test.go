package ledger

import (
	"context"
	"testing"
	"time"
)

func TestSim_TransferMovesFunds(t *testing.T) {
	sim := NewSim()
	from := AccountRef{Owner: "alice"}
	to := AccountRef{Owner: "bob"}
	sim.Mint(from, 1_000_000)

	ref, err := sim.Transfer(context.Background(), TransferRequest{
		From: from, To: to, Amount: 500_000, Fee: DefaultFee,
	})
	if err != nil {
		t.Fatalf("transfer: unexpected error: %v", err)
	}
	if ref == 0 {
		t.Fatal("expected non-zero settlement ref")
	}
	if got := sim.Balance(to); got != 500_000 {
		t.Fatalf("destination balance: expected 500000 got %d", got)
	}
	if got := sim.Balance(from); got != 1_000_000-500_000-DefaultFee {
		t.Fatalf("source balance: expected %d got %d", 1_000_000-500_000-DefaultFee, got)
	}
}

func TestSim_RejectsBadFee(t *testing.T) {
	sim := NewSim()
	from := AccountRef{Owner: "alice"}
	sim.Mint(from, 1_000_000)

	_, err := sim.Transfer(context.Background(), TransferRequest{
		From: from, To: AccountRef{Owner: "bob"}, Amount: 100, Fee: DefaultFee + 1,
	})
	te, ok := AsTransferError(err)
	if !ok || te.Code != CodeBadFee {
		t.Fatalf("expected bad_fee, got %v", err)
	}
}

func TestSim_RejectsInsufficientFunds(t *testing.T) {
	sim := NewSim()
	from := AccountRef{Owner: "alice"}
	sim.Mint(from, DefaultFee) // enough for the fee, nothing left for the amount

	_, err := sim.Transfer(context.Background(), TransferRequest{
		From: from, To: AccountRef{Owner: "bob"}, Amount: 1, Fee: DefaultFee,
	})
	te, ok := AsTransferError(err)
	if !ok || te.Code != CodeInsufficientFunds {
		t.Fatalf("expected insufficient_funds, got %v", err)
	}
}

func TestSim_RejectsDuplicateMemo(t *testing.T) {
	sim := NewSim()
	from := AccountRef{Owner: "alice"}
	sim.Mint(from, 10_000_000)

	req := TransferRequest{
		From: from, To: AccountRef{Owner: "bob"}, Amount: 100, Fee: DefaultFee, Memo: "job-1-deposit",
	}
	if _, err := sim.Transfer(context.Background(), req); err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	_, err := sim.Transfer(context.Background(), req)
	te, ok := AsTransferError(err)
	if !ok || te.Code != CodeDuplicate {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

func TestSim_RejectsStaleAndFutureStamps(t *testing.T) {
	sim := NewSim()
	from := AccountRef{Owner: "alice"}
	sim.Mint(from, 10_000_000)

	_, err := sim.Transfer(context.Background(), TransferRequest{
		From: from, To: AccountRef{Owner: "bob"}, Amount: 100, Fee: DefaultFee,
		CreatedAt: time.Now().Add(-48 * time.Hour),
	})
	if te, ok := AsTransferError(err); !ok || te.Code != CodeTooOld {
		t.Fatalf("expected too_old, got %v", err)
	}

	_, err = sim.Transfer(context.Background(), TransferRequest{
		From: from, To: AccountRef{Owner: "bob"}, Amount: 100, Fee: DefaultFee,
		CreatedAt: time.Now().Add(2 * time.Hour),
	})
	if te, ok := AsTransferError(err); !ok || te.Code != CodeCreatedInFuture {
		t.Fatalf("expected created_in_future, got %v", err)
	}
}

func TestSim_FailNextInjectsInOrder(t *testing.T) {
	sim := NewSim()
	from := AccountRef{Owner: "alice"}
	sim.Mint(from, 10_000_000)
	sim.FailNext(CodeUnavailable)

	req := TransferRequest{From: from, To: AccountRef{Owner: "bob"}, Amount: 100, Fee: DefaultFee}
	_, err := sim.Transfer(context.Background(), req)
	if te, ok := AsTransferError(err); !ok || te.Code != CodeUnavailable {
		t.Fatalf("expected injected unavailable, got %v", err)
	}
	if _, err := sim.Transfer(context.Background(), req); err != nil {
		t.Fatalf("expected normal processing to resume, got %v", err)
	}
}
