package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/audit"
	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

func newTestManager(t *testing.T) (Manager, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewManager(s, audit.NewNopLogger(), zap.NewNop()), s
}

func openAlert(t *testing.T, s store.Store) *store.AlertRecord {
	t.Helper()
	rec := &store.AlertRecord{
		ID:          uuid.New().String(),
		MetricName:  "revenue",
		ScopeID:     "dealer-001",
		Severity:    store.SeverityHigh,
		Description: "revenue collapsed",
		DetectedAt:  time.Now().UTC(),
		WindowStart: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Status:      store.AlertStatusOpen,
	}
	if err := s.InsertAlert(context.Background(), rec); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}
	return rec
}

func TestFullLifecycle(t *testing.T) {
	m, s := newTestManager(t)
	rec := openAlert(t, s)

	got, err := m.Investigate(context.Background(), rec.ID, "checking feed outage", "analyst-1")
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if got.Status != store.AlertStatusInvestigating || got.InvestigationNotes != "checking feed outage" {
		t.Errorf("investigate state wrong: %+v", got)
	}

	got, err = m.Dismiss(context.Background(), rec.ID, "analyst-1")
	if err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if got.Status != store.AlertStatusDismissed || got.DismissedBy != "analyst-1" {
		t.Errorf("dismiss state wrong: %+v", got)
	}

	// Terminal: nothing moves out of dismissed.
	if _, err := m.Resolve(context.Background(), rec.ID, "analyst-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition from dismissed, got %v", err)
	}
}

func TestResolveFromOpen(t *testing.T) {
	m, s := newTestManager(t)
	rec := openAlert(t, s)

	got, err := m.Resolve(context.Background(), rec.ID, "analyst-2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Status != store.AlertStatusResolved {
		t.Errorf("expected resolved, got %s", got.Status)
	}
	if got.ResolvedAt == nil {
		t.Error("resolved_at not stamped")
	}
}

func TestDismissRequiresInvestigation(t *testing.T) {
	m, s := newTestManager(t)
	rec := openAlert(t, s)

	if _, err := m.Dismiss(context.Background(), rec.ID, "analyst-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("open -> dismissed should be rejected, got %v", err)
	}
}

func TestDismissRequiresActor(t *testing.T) {
	m, s := newTestManager(t)
	rec := openAlert(t, s)

	if _, err := m.Investigate(context.Background(), rec.ID, "notes", "analyst-1"); err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if _, err := m.Dismiss(context.Background(), rec.ID, ""); !errors.Is(err, ErrActorRequired) {
		t.Errorf("expected ErrActorRequired, got %v", err)
	}
}

func TestDoubleInvestigateRejected(t *testing.T) {
	m, s := newTestManager(t)
	rec := openAlert(t, s)

	if _, err := m.Investigate(context.Background(), rec.ID, "first", "analyst-1"); err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if _, err := m.Investigate(context.Background(), rec.ID, "second", "analyst-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("investigating -> investigating should be rejected, got %v", err)
	}
}

func TestUnknownAlert(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Get(context.Background(), uuid.New().String()); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("expected ErrAlertNotFound, got %v", err)
	}
}

func TestTransitionPersisted(t *testing.T) {
	m, s := newTestManager(t)
	rec := openAlert(t, s)

	if _, err := m.Investigate(context.Background(), rec.ID, "looking", "analyst-1"); err != nil {
		t.Fatalf("Investigate: %v", err)
	}

	reloaded, err := s.GetAlert(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	if reloaded.Status != store.AlertStatusInvestigating {
		t.Errorf("transition not persisted: %+v", reloaded)
	}
}
