package alerting

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dealerlytics/dealerlytics-ai/internal/audit"
	"github.com/dealerlytics/dealerlytics-ai/internal/metrics"
	"github.com/dealerlytics/dealerlytics-ai/internal/store"
)

type manager struct {
	st     store.AlertStore
	audit  audit.Logger
	logger *zap.Logger
}

// NewManager creates an alert lifecycle manager.
func NewManager(st store.AlertStore, auditLog audit.Logger, logger *zap.Logger) Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &manager{st: st, audit: auditLog, logger: logger}
}

func (m *manager) Get(ctx context.Context, id string) (*store.AlertRecord, error) {
	rec, err := m.st.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrAlertNotFound
	}
	return rec, nil
}

func (m *manager) List(ctx context.Context, q store.AlertQuery) ([]*store.AlertRecord, error) {
	return m.st.QueryAlerts(ctx, q)
}

func (m *manager) Investigate(ctx context.Context, id, notes, actor string) (*store.AlertRecord, error) {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != store.AlertStatusOpen {
		return nil, fmt.Errorf("%w: %s -> investigating", ErrInvalidTransition, rec.Status)
	}

	from := rec.Status
	rec.Status = store.AlertStatusInvestigating
	rec.InvestigationNotes = notes
	if err := m.persistTransition(ctx, rec, from, actor); err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *manager) Dismiss(ctx context.Context, id, actor string) (*store.AlertRecord, error) {
	if actor == "" {
		return nil, ErrActorRequired
	}
	rec, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != store.AlertStatusInvestigating {
		return nil, fmt.Errorf("%w: %s -> dismissed", ErrInvalidTransition, rec.Status)
	}

	from := rec.Status
	rec.Status = store.AlertStatusDismissed
	rec.DismissedBy = actor
	if err := m.persistTransition(ctx, rec, from, actor); err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *manager) Resolve(ctx context.Context, id, actor string) (*store.AlertRecord, error) {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != store.AlertStatusOpen && rec.Status != store.AlertStatusInvestigating {
		return nil, fmt.Errorf("%w: %s -> resolved", ErrInvalidTransition, rec.Status)
	}

	from := rec.Status
	now := time.Now().UTC()
	rec.Status = store.AlertStatusResolved
	rec.ResolvedAt = &now
	if err := m.persistTransition(ctx, rec, from, actor); err != nil {
		return nil, err
	}
	return rec, nil
}

func (m *manager) CountsByStatus(ctx context.Context) (map[string]int, error) {
	counts, err := m.st.CountAlertsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	for status, n := range counts {
		metrics.AlertsOpen.WithLabelValues(status).Set(float64(n))
	}
	return counts, nil
}

func (m *manager) persistTransition(ctx context.Context, rec *store.AlertRecord, from, actor string) error {
	if err := m.st.UpdateAlert(ctx, rec); err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if m.audit != nil {
		_ = m.audit.LogAlertTransition(ctx, rec.ID, from, rec.Status, actor)
	}
	m.logger.Info("alert transitioned",
		zap.String("alert_id", rec.ID),
		zap.String("from", from),
		zap.String("to", rec.Status),
		zap.String("actor", actor),
	)
	return nil
}
