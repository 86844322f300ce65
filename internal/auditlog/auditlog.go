// Package auditlog implements the Audit Log (spec.md §4.10): an
// append-only, forward-only record of every scoring and disposition action,
// with no update or delete path.
package auditlog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jimmc414/invoice-anomaly-detection-sieve/internal/domain"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/pkg/clock"
	"github.com/jimmc414/invoice-anomaly-detection-sieve/pkg/sieveerrors"
)

// Action names recorded by the scoring orchestrator and case disposition
// endpoint.
const (
	ActionScore       = "score"
	ActionDisposition = "disposition"
)

// Entity kinds recorded alongside an action.
const (
	EntityInvoice = "invoice"
	EntityCase    = "case"
)

// Execer is satisfied by *sqlx.DB and *sqlx.Tx.
type Execer interface {
	sqlx.ExtContext
}

// Log is the Postgres-backed append-only audit log.
type Log struct {
	clk clock.Clock
}

// New constructs a Log.
func New(clk clock.Clock) *Log {
	return &Log{clk: clk}
}

// Append writes one forward-only entry. There is no corresponding Update or
// Delete method by design.
func (l *Log) Append(ctx context.Context, ex Execer, tenantID, actor, action, entity, entityID, payload string) (domain.AuditEntry, error) {
	entry := domain.AuditEntry{
		TenantID:  tenantID,
		EntryID:   uuid.NewString(),
		Actor:     actor,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Payload:   payload,
		CreatedAt: l.clk.Now(),
	}

	const q = `
		INSERT INTO audit_entries (tenant_id, entry_id, actor, action, entity, entity_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := ex.ExecContext(ctx, q, entry.TenantID, entry.EntryID, entry.Actor, entry.Action,
		entry.Entity, entry.EntityID, entry.Payload, entry.CreatedAt); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("%w: append audit entry: %v", sieveerrors.ErrStoreUnavailable, err)
	}
	return entry, nil
}
