// Package activectx enforces the single-active-context rule: each owner
// has at most one context marked active, and every activation settles
// through one store transaction.
package activectx

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/71lols/paradigm-website/pkg/apperr"
	"github.com/71lols/paradigm-website/pkg/audit"
	"github.com/71lols/paradigm-website/pkg/auth"
	"github.com/71lols/paradigm-website/pkg/events"
	"github.com/71lols/paradigm-website/pkg/metrics"
	"github.com/71lols/paradigm-website/pkg/models"
	"github.com/71lols/paradigm-website/pkg/store"
)

type Machine struct {
	Contexts  store.ContextStore
	Publisher events.Publisher
	Audit     *audit.Writer
	Metrics   *metrics.Registry
	Logger    *log.Logger
	Now       func() time.Time
}

func New(contexts store.ContextStore) *Machine {
	return &Machine{Contexts: contexts}
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

func (m *Machine) logf(format string, args ...any) {
	if m.Logger != nil {
		m.Logger.Printf(format, args...)
	}
}

// Activate marks the target as the owner's only active context. The
// existence check runs before the ownership guard so a caller probing
// foreign ids cannot distinguish them from missing ones by error kind
// alone once the guard fires. Activating an already-active context is
// a no-op commit and succeeds.
func (m *Machine) Activate(ctx context.Context, p auth.Principal, contextID string) (models.Context, error) {
	target, err := m.Contexts.GetContext(ctx, contextID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Context{}, apperr.New(apperr.NotFound, "context not found")
	}
	if err != nil {
		return models.Context{}, apperr.Wrap(apperr.Unexpected, "failed to load context", err)
	}
	if err := auth.RequireOwner(p, target.OwnerID); err != nil {
		m.append(ctx, p.Subject, "context.activate", contextID, audit.OutcomeDenied)
		return models.Context{}, err
	}

	now := m.now()
	updated, err := m.Contexts.ActivateContext(ctx, p.Subject, contextID, now)
	if errors.Is(err, store.ErrConflict) {
		// one retry absorbs a lost transaction race; activation is
		// idempotent so replaying the transition is safe
		if m.Metrics != nil {
			m.Metrics.IncActivationConflict()
		}
		updated, err = m.Contexts.ActivateContext(ctx, p.Subject, contextID, m.now())
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return models.Context{}, apperr.New(apperr.NotFound, "context not found")
	case errors.Is(err, store.ErrConflict):
		m.append(ctx, p.Subject, "context.activate", contextID, audit.OutcomeConflict)
		return models.Context{}, apperr.New(apperr.Conflict, "context activation conflicted, retry")
	case err != nil:
		m.append(ctx, p.Subject, "context.activate", contextID, audit.OutcomeError)
		return models.Context{}, apperr.Wrap(apperr.Unexpected, "failed to activate context", err)
	}

	if m.Metrics != nil {
		m.Metrics.IncActivation()
	}
	m.append(ctx, p.Subject, "context.activate", contextID, audit.OutcomeAllowed)
	m.publish(ctx, events.Event{
		Type:      events.TypeContextActivated,
		OwnerID:   p.Subject,
		Resource:  contextID,
		Timestamp: now,
	})
	return updated, nil
}

// Deactivate clears the active flag on the target only. Deactivating
// an already-inactive context succeeds without touching timestamps.
func (m *Machine) Deactivate(ctx context.Context, p auth.Principal, contextID string) (models.Context, error) {
	target, err := m.Contexts.GetContext(ctx, contextID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Context{}, apperr.New(apperr.NotFound, "context not found")
	}
	if err != nil {
		return models.Context{}, apperr.Wrap(apperr.Unexpected, "failed to load context", err)
	}
	if err := auth.RequireOwner(p, target.OwnerID); err != nil {
		m.append(ctx, p.Subject, "context.deactivate", contextID, audit.OutcomeDenied)
		return models.Context{}, err
	}

	wasActive := target.IsActive
	now := m.now()
	updated, err := m.Contexts.DeactivateContext(ctx, contextID, now)
	if errors.Is(err, store.ErrNotFound) {
		return models.Context{}, apperr.New(apperr.NotFound, "context not found")
	}
	if err != nil {
		m.append(ctx, p.Subject, "context.deactivate", contextID, audit.OutcomeError)
		return models.Context{}, apperr.Wrap(apperr.Unexpected, "failed to deactivate context", err)
	}

	m.append(ctx, p.Subject, "context.deactivate", contextID, audit.OutcomeAllowed)
	if wasActive {
		m.publish(ctx, events.Event{
			Type:      events.TypeContextDeactivated,
			OwnerID:   p.Subject,
			Resource:  contextID,
			Timestamp: now,
		})
	}
	return updated, nil
}

func (m *Machine) publish(ctx context.Context, ev events.Event) {
	if m.Publisher == nil {
		return
	}
	if err := m.Publisher.Publish(ctx, ev); err != nil {
		m.logf("event publish failed type=%s owner=%s: %v", ev.Type, ev.OwnerID, err)
	}
}

func (m *Machine) append(ctx context.Context, actor, action, resource, outcome string) {
	if m.Audit == nil {
		return
	}
	err := m.Audit.Append(ctx, audit.Record{
		Actor:     actor,
		Action:    action,
		Resource:  resource,
		Outcome:   outcome,
		CreatedAt: m.now(),
	})
	if err != nil {
		m.logf("audit append failed action=%s: %v", action, err)
	}
}
