package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examhall/examhall-backend/internal/model"
)

// AuditRepository persists audit events for administrative overrides.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Record stores one audit event. details is marshalled to JSON; a nil
// details is stored as NULL.
func (r *AuditRepository) Record(ctx context.Context, actorID int64, action model.AuditAction, details any) error {
	var payload []byte
	if details != nil {
		var err error
		payload, err = json.Marshal(details)
		if err != nil {
			return err
		}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_events (actor_id, action, details) VALUES ($1, $2, $3)`,
		actorID, action, payload)
	return err
}
