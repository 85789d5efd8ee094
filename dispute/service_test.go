package dispute

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

const (
	testManager    = "svc:jobs"
	testClient     = "client-1"
	testFreelancer = "freelancer-1"
	testArbitrator = "arb-1"
	testOutsider   = "stranger-1"
)

func newTestEngine(t *testing.T) (*Engine, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := NewEngine(store, log, Config{ManagerIdentities: []string{testManager}})
	return eng, store
}

func openDispute(t *testing.T, eng *Engine) Dispute {
	t.Helper()
	d, err := eng.CreateDispute(context.Background(), testManager, CreateParams{
		JobID:      7,
		Client:     testClient,
		Freelancer: testFreelancer,
		RaisedBy:   testClient,
		Reason:     "milestone delivered does not match the brief",
	})
	if err != nil {
		t.Fatalf("create dispute: %v", err)
	}
	return d
}

func TestCreateDispute(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	d := openDispute(t, eng)
	if d.Status != StatusOpen {
		t.Fatalf("status = %q, want %q", d.Status, StatusOpen)
	}
	if d.ID == 0 {
		t.Fatal("expected assigned id")
	}

	_, err := eng.CreateDispute(ctx, testClient, CreateParams{
		JobID: 7, Client: testClient, Freelancer: testFreelancer,
		RaisedBy: testClient, Reason: "milestone delivered does not match the brief",
	})
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("direct party create: err = %v, want ErrNotAuthorized", err)
	}

	_, err = eng.CreateDispute(ctx, testManager, CreateParams{
		JobID: 7, Client: testClient, Freelancer: testFreelancer,
		RaisedBy: testClient, Reason: "too short",
	})
	if !errors.Is(err, ErrReasonTooShort) {
		t.Fatalf("short reason: err = %v, want ErrReasonTooShort", err)
	}

	_, err = eng.CreateDispute(ctx, testManager, CreateParams{
		JobID: 7, Client: testClient, Freelancer: testFreelancer,
		RaisedBy: testOutsider, Reason: "milestone delivered does not match the brief",
	})
	if !errors.Is(err, ErrNotParty) {
		t.Fatalf("outsider raiser: err = %v, want ErrNotParty", err)
	}
}

func TestSubmitEvidence(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	d := openDispute(t, eng)

	ev, err := eng.SubmitEvidence(ctx, testFreelancer, d.ID, "delivery receipt", "ipfs://abc")
	if err != nil {
		t.Fatalf("submit evidence: %v", err)
	}
	if ev.Submitter != testFreelancer {
		t.Fatalf("submitter = %q", ev.Submitter)
	}

	if _, err := eng.SubmitEvidence(ctx, testOutsider, d.ID, "drive-by", ""); !errors.Is(err, ErrNotParty) {
		t.Fatalf("outsider evidence: err = %v, want ErrNotParty", err)
	}

	if err := eng.AddArbitrator(ctx, testManager, testArbitrator); err != nil {
		t.Fatalf("add arbitrator: %v", err)
	}
	if _, err := eng.Resolve(ctx, testArbitrator, d.ID, Resolution{Kind: ClientWins}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := eng.SubmitEvidence(ctx, testClient, d.ID, "late exhibit", ""); !errors.Is(err, ErrClosed) {
		t.Fatalf("evidence after resolve: err = %v, want ErrClosed", err)
	}
}

func TestMessages_PrivateRules(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	d := openDispute(t, eng)

	if err := eng.AddArbitrator(ctx, testManager, testArbitrator); err != nil {
		t.Fatalf("add arbitrator: %v", err)
	}

	if _, err := eng.SendMessage(ctx, testClient, d.ID, "my side of the story", false); err != nil {
		t.Fatalf("public message: %v", err)
	}
	if _, err := eng.SendMessage(ctx, testClient, d.ID, "just between us", true); !errors.Is(err, ErrNotArbitrator) {
		t.Fatalf("party private message: err = %v, want ErrNotArbitrator", err)
	}
	if _, err := eng.SendMessage(ctx, testOutsider, d.ID, "hello", false); !errors.Is(err, ErrNotParty) {
		t.Fatalf("outsider message: err = %v, want ErrNotParty", err)
	}

	// Unassigned dispute: any registered arbitrator may write privately.
	if _, err := eng.SendMessage(ctx, testArbitrator, d.ID, "internal note", true); err != nil {
		t.Fatalf("arbitrator private message before assignment: %v", err)
	}

	if err := eng.AddArbitrator(ctx, testManager, "arb-2"); err != nil {
		t.Fatalf("add second arbitrator: %v", err)
	}
	if _, err := eng.AssignArbitrator(ctx, testManager, d.ID, testArbitrator); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := eng.SendMessage(ctx, "arb-2", d.ID, "side channel", true); !errors.Is(err, ErrNotArbitrator) {
		t.Fatalf("unassigned arbitrator private message: err = %v, want ErrNotArbitrator", err)
	}
	if _, err := eng.SendMessage(ctx, testArbitrator, d.ID, "assigned note", true); err != nil {
		t.Fatalf("assigned arbitrator private message: %v", err)
	}
}

func TestMessages_Visibility(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	d := openDispute(t, eng)

	if err := eng.AddArbitrator(ctx, testManager, testArbitrator); err != nil {
		t.Fatalf("add arbitrator: %v", err)
	}
	if _, err := eng.SendMessage(ctx, testClient, d.ID, "public statement", false); err != nil {
		t.Fatalf("public message: %v", err)
	}
	if _, err := eng.SendMessage(ctx, testArbitrator, d.ID, "internal note", true); err != nil {
		t.Fatalf("private message: %v", err)
	}

	partyView, err := eng.Messages(ctx, testClient, d.ID)
	if err != nil {
		t.Fatalf("party view: %v", err)
	}
	if len(partyView) != 1 || partyView[0].Body != "public statement" {
		t.Fatalf("party view = %+v, want public only", partyView)
	}

	arbView, err := eng.Messages(ctx, testArbitrator, d.ID)
	if err != nil {
		t.Fatalf("arbitrator view: %v", err)
	}
	if len(arbView) != 2 {
		t.Fatalf("arbitrator view len = %d, want 2", len(arbView))
	}

	if _, err := eng.Messages(ctx, testOutsider, d.ID); !errors.Is(err, ErrNotParty) {
		t.Fatalf("outsider view: err = %v, want ErrNotParty", err)
	}
}

func TestAssignArbitrator(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	d := openDispute(t, eng)

	if _, err := eng.AssignArbitrator(ctx, testManager, d.ID, testArbitrator); !errors.Is(err, ErrUnknownArbitrator) {
		t.Fatalf("assign unregistered: err = %v, want ErrUnknownArbitrator", err)
	}

	if err := eng.AddArbitrator(ctx, testManager, testArbitrator); err != nil {
		t.Fatalf("add arbitrator: %v", err)
	}
	if _, err := eng.AssignArbitrator(ctx, testClient, d.ID, testArbitrator); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("party assign: err = %v, want ErrNotAuthorized", err)
	}

	got, err := eng.AssignArbitrator(ctx, testManager, d.ID, testArbitrator)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.Status != StatusUnderReview || got.Arbitrator != testArbitrator {
		t.Fatalf("after assign: status=%q arbitrator=%q", got.Status, got.Arbitrator)
	}

	// Already under review: a second assign is rejected.
	if _, err := eng.AssignArbitrator(ctx, testManager, d.ID, testArbitrator); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("reassign under review: err = %v, want ErrBadStatus", err)
	}
}

func TestUpdateStage(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	d := openDispute(t, eng)

	if err := eng.AddArbitrator(ctx, testManager, testArbitrator); err != nil {
		t.Fatalf("add arbitrator: %v", err)
	}
	if _, err := eng.UpdateStage(ctx, testArbitrator, d.ID, StatusInMediation); !errors.Is(err, ErrNotArbitrator) {
		t.Fatalf("stage before assignment: err = %v, want ErrNotArbitrator", err)
	}

	if _, err := eng.AssignArbitrator(ctx, testManager, d.ID, testArbitrator); err != nil {
		t.Fatalf("assign: %v", err)
	}

	got, err := eng.UpdateStage(ctx, testArbitrator, d.ID, StatusAwaitingEvidence)
	if err != nil {
		t.Fatalf("stage awaiting_evidence: %v", err)
	}
	if got.Status != StatusAwaitingEvidence {
		t.Fatalf("status = %q", got.Status)
	}

	if _, err := eng.UpdateStage(ctx, testClient, d.ID, StatusInMediation); !errors.Is(err, ErrNotArbitrator) {
		t.Fatalf("party stage change: err = %v, want ErrNotArbitrator", err)
	}
	if _, err := eng.UpdateStage(ctx, testArbitrator, d.ID, StatusResolved); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("stage to resolved: err = %v, want ErrBadStatus", err)
	}

	if _, err := eng.Resolve(ctx, testArbitrator, d.ID, Resolution{Kind: FreelancerWins}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := eng.UpdateStage(ctx, testArbitrator, d.ID, StatusInMediation); !errors.Is(err, ErrClosed) {
		t.Fatalf("stage after resolve: err = %v, want ErrClosed", err)
	}
}

func TestResolve(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if err := eng.AddArbitrator(ctx, testManager, testArbitrator); err != nil {
		t.Fatalf("add arbitrator: %v", err)
	}

	cases := []struct {
		name string
		res  Resolution
		ok   bool
	}{
		{"client wins", Resolution{Kind: ClientWins}, true},
		{"freelancer wins", Resolution{Kind: FreelancerWins}, true},
		{"partial refund", Resolution{Kind: PartialClientRefund, ClientBps: 2_500}, true},
		{"even split", Resolution{Kind: Split, ClientBps: 5_000, FreelancerBps: 5_000}, true},
		{"split not summing", Resolution{Kind: Split, ClientBps: 5_000, FreelancerBps: 4_000}, false},
		{"partial over full", Resolution{Kind: PartialClientRefund, ClientBps: 10_001}, false},
		{"winner with shares", Resolution{Kind: ClientWins, ClientBps: 100}, false},
		{"unknown kind", Resolution{Kind: "coin_flip"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := openDispute(t, eng)
			got, err := eng.Resolve(ctx, testArbitrator, d.ID, tc.res)
			if !tc.ok {
				if !errors.Is(err, ErrBadResolution) {
					t.Fatalf("err = %v, want ErrBadResolution", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got.Status != StatusResolved || got.Resolution == nil || got.ResolvedAt == nil {
				t.Fatalf("after resolve: %+v", got)
			}
			if got.Resolution.Kind != tc.res.Kind {
				t.Fatalf("kind = %q, want %q", got.Resolution.Kind, tc.res.Kind)
			}

			votes, err := eng.Votes(ctx, testArbitrator, d.ID)
			if err != nil {
				t.Fatalf("votes: %v", err)
			}
			if len(votes) != 1 || votes[0].Arbitrator != testArbitrator {
				t.Fatalf("votes = %+v, want one by %s", votes, testArbitrator)
			}
		})
	}
}

func TestResolve_Authorization(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	d := openDispute(t, eng)

	if _, err := eng.Resolve(ctx, testClient, d.ID, Resolution{Kind: ClientWins}); !errors.Is(err, ErrNotArbitrator) {
		t.Fatalf("party resolve: err = %v, want ErrNotArbitrator", err)
	}

	if err := eng.AddArbitrator(ctx, testManager, testArbitrator); err != nil {
		t.Fatalf("add arbitrator: %v", err)
	}
	if _, err := eng.Resolve(ctx, testArbitrator, d.ID, Resolution{Kind: ClientWins}); err != nil {
		t.Fatalf("set member resolve: %v", err)
	}
	if _, err := eng.Resolve(ctx, testArbitrator, d.ID, Resolution{Kind: FreelancerWins}); !errors.Is(err, ErrClosed) {
		t.Fatalf("double resolve: err = %v, want ErrClosed", err)
	}
}

func TestCancelDispute(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	d := openDispute(t, eng)

	if _, err := eng.CancelDispute(ctx, testClient, d.ID); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("party cancel: err = %v, want ErrNotAuthorized", err)
	}

	got, err := eng.CancelDispute(ctx, testManager, d.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status = %q, want %q", got.Status, StatusCancelled)
	}
	if _, err := eng.CancelDispute(ctx, testManager, d.ID); !errors.Is(err, ErrClosed) {
		t.Fatalf("double cancel: err = %v, want ErrClosed", err)
	}
}

func TestArbitratorSet(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	if err := eng.AddArbitrator(ctx, testClient, testArbitrator); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("party add: err = %v, want ErrNotAuthorized", err)
	}
	if err := eng.AddArbitrator(ctx, testManager, testArbitrator); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := eng.AddArbitrator(ctx, testManager, testArbitrator); !errors.Is(err, ErrDuplicateArbitrator) {
		t.Fatalf("duplicate add: err = %v, want ErrDuplicateArbitrator", err)
	}
	if err := eng.RemoveArbitrator(ctx, testManager, testArbitrator); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := eng.RemoveArbitrator(ctx, testManager, testArbitrator); !errors.Is(err, ErrUnknownArbitrator) {
		t.Fatalf("remove missing: err = %v, want ErrUnknownArbitrator", err)
	}
}

func TestGet_Visibility(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	d := openDispute(t, eng)

	for _, caller := range []string{testClient, testFreelancer, testManager} {
		if _, err := eng.Get(ctx, caller, d.ID); err != nil {
			t.Fatalf("get as %s: %v", caller, err)
		}
	}
	if _, err := eng.Get(ctx, testOutsider, d.ID); !errors.Is(err, ErrNotParty) {
		t.Fatalf("outsider get: err = %v, want ErrNotParty", err)
	}
	if _, err := eng.Get(ctx, testManager, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing dispute: err = %v, want ErrNotFound", err)
	}
}
