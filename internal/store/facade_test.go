package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"ecosort/internal/ledger"
	"ecosort/internal/remote"
	"ecosort/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newFacade(t *testing.T) (*Store, *remote.SQLiteStore) {
	t.Helper()
	r, err := remote.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create remote store: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	s := New(r, nil)
	t.Cleanup(s.Dispose)
	return s, r
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestInitWithoutSession(t *testing.T) {
	s, _ := newFacade(t)

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if s.SessionLoading() {
		t.Error("SessionLoading still set after Init resolved")
	}
	if s.Identity() != nil {
		t.Error("Identity present without any session")
	}
	if len(s.Requests()) != 0 {
		t.Error("Mirror filled without a session")
	}
}

func TestInitResumesExistingSession(t *testing.T) {
	r, err := remote.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create remote store: %v", err)
	}
	defer r.Close()

	first := New(r, nil)
	if err := first.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := first.Register(context.Background(), remote.Profile{
		Email: "john@test.com", DisplayName: "John Doe", Address: "123 Green St", Role: "REQUESTER",
	}, "password"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	first.Dispose()

	second := New(r, nil)
	defer second.Dispose()
	if err := second.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	ident := second.Identity()
	if ident == nil || ident.Email != "john@test.com" {
		t.Fatalf("Session not resumed: %+v", ident)
	}
}

func TestRegisterCreateAndForeignAcceptance(t *testing.T) {
	s, r := newFacade(t)
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if err := s.Register(ctx, remote.Profile{
		Email: "john@test.com", DisplayName: "John Doe", Address: "123 Green St", Role: "REQUESTER",
	}, "password"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	if err := s.CreateRequest(ctx, ledger.CreateDetails{
		Category:    types.CategoryEWaste,
		Description: "old laptop battery",
		Quantity:    "1 bag",
	}); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	reqs := s.Requests()
	if len(reqs) != 1 {
		t.Fatalf("Mirror has %d records, want 1", len(reqs))
	}
	req := reqs[0]
	if req.Status != types.StatusPending || req.RequesterName != "John Doe" {
		t.Fatalf("Unexpected record after create: %+v", req)
	}

	// Another client accepts the request out of band. The change feed must
	// reconcile the mirror silently, without this client doing anything.
	if err := r.AcceptRequest(ctx, req.ID, "col-99"); err != nil {
		t.Fatalf("Out-of-band accept failed: %v", err)
	}
	waitFor(t, func() bool {
		rs := s.Requests()
		return len(rs) == 1 && rs[0].Status == types.StatusAccepted && rs[0].CollectorID == "col-99"
	}, "Mirror never reconciled the out-of-band acceptance")

	select {
	case <-sub.C:
	case <-time.After(time.Second):
		t.Error("Subscriber was not notified of the reconciliation")
	}

	// Having observed the foreign acceptance, a local accept attempt is a
	// local validation failure and must not overwrite the winner.
	err := s.AssignCollector(ctx, req.ID, "col-1")
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Expected ValidationError after losing the race, got %v", err)
	}
	if got := s.Requests()[0].CollectorID; got != "col-99" {
		t.Errorf("Loser overwrote the winner: collector = %s", got)
	}
}

func TestLogoutClearsIdentityAndMirror(t *testing.T) {
	s, _ := newFacade(t)
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := s.Register(ctx, remote.Profile{
		Email: "a@test.com", DisplayName: "A", Role: "REQUESTER",
	}, "pw"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := s.CreateRequest(ctx, ledger.CreateDetails{
		Category: types.CategoryDry, Description: "newspapers", Quantity: "2 kg",
	}); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	s.Logout(ctx)

	if s.Identity() != nil {
		t.Error("Identity survived logout")
	}
	if len(s.Requests()) != 0 {
		t.Error("Mirror survived logout")
	}
}

func TestFullLifecycleAsCollector(t *testing.T) {
	s, r := newFacade(t)
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// Seed a pending request from a requester on another client.
	reqID, err := r.InsertRequest(ctx, types.Request{
		RequesterID:      "u-1",
		RequesterName:    "John Doe",
		RequesterAddress: "123 Green St",
		Category:         types.CategoryEWaste,
		Description:      "old laptop battery",
		Quantity:         "1 bag",
		Status:           types.StatusPending,
	})
	if err != nil {
		t.Fatalf("Seed insert failed: %v", err)
	}

	if err := s.Register(ctx, remote.Profile{
		Email: "mike@test.com", DisplayName: "Driver Mike", Role: "COLLECTOR",
	}, "pw"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	collector := s.Identity()

	if err := s.AssignCollector(ctx, reqID, collector.ID); err != nil {
		t.Fatalf("AssignCollector failed: %v", err)
	}
	if got := s.Requests()[0]; got.Status != types.StatusAccepted || got.CollectorID != collector.ID {
		t.Fatalf("After accept: %+v", got)
	}
	if got := s.RequestsByCollector(collector.ID); len(got) != 1 {
		t.Errorf("RequestsByCollector = %d records, want 1", len(got))
	}

	if err := s.SetStatus(ctx, reqID, types.StatusCompleted); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got := s.Requests()[0].Status; got != types.StatusCompleted {
		t.Fatalf("After complete: status = %s", got)
	}

	if err := s.SetStatus(ctx, reqID, types.StatusPending); err == nil {
		t.Error("Reopening a completed request succeeded")
	}
}

func TestCompleteReservedForBoundCollector(t *testing.T) {
	s, r := newFacade(t)
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	reqID, err := r.InsertRequest(ctx, types.Request{
		RequesterID:      "u-1",
		RequesterName:    "John Doe",
		RequesterAddress: "123 Green St",
		Category:         types.CategoryDry,
		Description:      "newspapers",
		Quantity:         "2 kg",
		Status:           types.StatusPending,
	})
	if err != nil {
		t.Fatalf("Seed insert failed: %v", err)
	}

	if err := s.Register(ctx, remote.Profile{
		Email: "other@test.com", DisplayName: "Driver Other", Role: "COLLECTOR",
	}, "pw"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// The request is claimed by a collector on another client.
	if err := r.AcceptRequest(ctx, reqID, "col-owner"); err != nil {
		t.Fatalf("Out-of-band accept failed: %v", err)
	}
	waitFor(t, func() bool {
		rs := s.Requests()
		return len(rs) == 1 && rs[0].Status == types.StatusAccepted
	}, "Mirror never reconciled the out-of-band acceptance")

	err = s.SetStatus(ctx, reqID, types.StatusCompleted)
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Completing another collector's request: expected ValidationError, got %v", err)
	}
	got := s.Requests()[0]
	if got.Status != types.StatusAccepted || got.CollectorID != "col-owner" {
		t.Errorf("Foreign complete changed the record: %+v", got)
	}
}

func TestUpdateProfileDoesNotTouchOldSnapshots(t *testing.T) {
	s, _ := newFacade(t)
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := s.Register(ctx, remote.Profile{
		Email: "a@test.com", DisplayName: "A", Address: "old address", Role: "REQUESTER",
	}, "pw"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := s.CreateRequest(ctx, ledger.CreateDetails{
		Category: types.CategoryWet, Description: "banana peels", Quantity: "1 bucket",
	}); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	name := "Alice"
	ident, err := s.UpdateProfile(ctx, remote.ProfilePatch{DisplayName: &name})
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if ident.DisplayName != "Alice" {
		t.Errorf("Identity not updated: %+v", ident)
	}

	if got := s.Requests()[0].RequesterName; got != "A" {
		t.Errorf("Historical snapshot changed with the profile edit: %q", got)
	}
}
