package gorm

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/thebtf/codeaudit/pkg/models"
)

// AuditStore records mutating operations. Audit rows are fine grained and
// short lived; the retention sweep prunes them first.
type AuditStore struct {
	db *gorm.DB
}

// NewAuditStore creates a new audit store.
func NewAuditStore(store *Store) *AuditStore {
	return &AuditStore{db: store.DB}
}

// Record writes an audit event on its own connection, for use after the
// guarded operation has committed. Audit failures here are logged, never
// propagated: an audit row is not worth failing the operation it describes.
//
// Never call Record from inside an open transaction: it starts a second
// transaction on a fresh pooled connection, and the sqlite pool holds a
// single connection, so the inner begin would wait on the outer transaction
// forever. In-transaction callers use RecordTx.
func (s *AuditStore) Record(ctx context.Context, actor models.Actor, action string, resourceType models.ResourceType, resourceID string) {
	if err := s.db.WithContext(ctx).Create(auditRow(actor, action, resourceType, resourceID)).Error; err != nil {
		log.Warn().Err(err).Str("action", action).Msg("Failed to record audit event")
	}
}

// RecordTx writes an audit event through the caller's open transaction, so
// the event commits and rolls back with the mutation it describes.
func (s *AuditStore) RecordTx(tx *gorm.DB, actor models.Actor, action string, resourceType models.ResourceType, resourceID string) error {
	return classifyError(tx.Create(auditRow(actor, action, resourceType, resourceID)).Error, "audit_events")
}

func auditRow(actor models.Actor, action string, resourceType models.ResourceType, resourceID string) *AuditEvent {
	return &AuditEvent{
		ActorID:      actor.ID,
		Action:       action,
		ResourceType: string(resourceType),
		ResourceID:   resourceID,
	}
}

// CountSince returns the number of audit events recorded after the cutoff.
func (s *AuditStore) CountSince(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&AuditEvent{}).
		Where("created_at >= ?", cutoff).
		Count(&count).Error
	return count, classifyError(err, "audit_events")
}

// PruneOlderThan deletes audit events older than the cutoff in batches.
// Returns the number of rows removed.
func (s *AuditStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const batchSize = 500

	var total int64
	for {
		res := s.db.WithContext(ctx).
			Where("id IN (?)", s.db.Session(&gorm.Session{NewDB: true}).
				Model(&AuditEvent{}).
				Select("id").
				Where("created_at < ?", cutoff).
				Limit(batchSize)).
			Delete(&AuditEvent{})
		if res.Error != nil {
			return total, classifyError(res.Error, "audit_events")
		}
		total += res.RowsAffected
		if res.RowsAffected < batchSize {
			return total, nil
		}

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
	}
}
