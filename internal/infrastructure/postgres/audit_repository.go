package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swapshelf/swapshelf/internal/domain/audit"
)

// AuditRepository implements audit.Repository.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Create(ctx context.Context, entry *audit.AuditLog) error {
	itemIDs := entry.ItemIDs
	if itemIDs == nil {
		itemIDs = []uuid.UUID{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs
		(audit_id, negotiation_id, action, actor_id, from_status, to_status, item_ids, reason, signature, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.AuditID, entry.NegotiationID, entry.Action, entry.ActorID, entry.FromStatus, entry.ToStatus, itemIDs, entry.Reason, entry.Signature, entry.CreatedAt)
	return err
}

func (r *AuditRepository) ListByNegotiation(ctx context.Context, negotiationID uuid.UUID) ([]*audit.AuditLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT audit_id, negotiation_id, action, actor_id, from_status, to_status, item_ids, reason, signature, created_at
		FROM audit_logs WHERE negotiation_id=$1 ORDER BY created_at, id
	`, negotiationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []*audit.AuditLog
	for rows.Next() {
		log, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func scanAudit(row pgx.Row) (*audit.AuditLog, error) {
	var log audit.AuditLog
	err := row.Scan(&log.AuditID, &log.NegotiationID, &log.Action, &log.ActorID, &log.FromStatus, &log.ToStatus, &log.ItemIDs, &log.Reason, &log.Signature, &log.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &log, nil
}
