package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
)

const negotiationColumns = `id, requested_item_id, offered_item_id, requester_id, owner_id, kind, status, close_reason, created_at, updated_at, decided_at`

// NegotiationRepository implements negotiation.Repository.
type NegotiationRepository struct {
	db dbtx
}

func (r *NegotiationRepository) Create(ctx context.Context, n *negotiation.Negotiation) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO negotiations (`+negotiationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, n.ID, n.RequestedItemID, n.OfferedItemID, n.RequesterID, n.OwnerID, n.Kind, n.Status, n.CloseReason, n.CreatedAt, n.UpdatedAt, n.DecidedAt)
	if constraint, ok := uniqueViolation(err); ok && strings.HasPrefix(constraint, "negotiations_pending_") {
		return negotiation.ErrPendingConflict
	}
	return err
}

func (r *NegotiationRepository) GetByID(ctx context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	row := r.db.QueryRow(ctx, `SELECT `+negotiationColumns+` FROM negotiations WHERE id=$1`, negotiationID)
	return scanNegotiation(row)
}

func (r *NegotiationRepository) GetForUpdate(ctx context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	row := r.db.QueryRow(ctx, `SELECT `+negotiationColumns+` FROM negotiations WHERE id=$1 FOR UPDATE`, negotiationID)
	return scanNegotiation(row)
}

func (r *NegotiationRepository) UpdateStatus(ctx context.Context, n *negotiation.Negotiation, from negotiation.Status) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE negotiations SET status=$2, close_reason=$3, updated_at=$4, decided_at=$5
		WHERE id=$1 AND status=$6
	`, n.ID, n.Status, n.CloseReason, n.UpdatedAt, n.DecidedAt, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *NegotiationRepository) ListPendingByItem(ctx context.Context, itemID uuid.UUID) ([]*negotiation.Negotiation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+negotiationColumns+` FROM negotiations
		WHERE status=$1 AND (requested_item_id=$2 OR offered_item_id=$2)
		ORDER BY created_at DESC, id
	`, negotiation.StatusPending, itemID)
	if err != nil {
		return nil, err
	}
	return collectNegotiations(rows)
}

func (r *NegotiationRepository) List(ctx context.Context, filter negotiation.Filter, limit, offset int) ([]*negotiation.Negotiation, error) {
	query := `SELECT ` + negotiationColumns + ` FROM negotiations`
	args := []any{}
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		query += addWhere(query) + " owner_id=" + placeholder(len(args))
	}
	if filter.RequesterID != nil {
		args = append(args, *filter.RequesterID)
		query += addWhere(query) + " requester_id=" + placeholder(len(args))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		query += addWhere(query) + " status = ANY(" + placeholder(len(args)) + ")"
	}
	query += " ORDER BY created_at DESC, id"
	query, args = appendPage(query, args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectNegotiations(rows)
}

func collectNegotiations(rows pgx.Rows) ([]*negotiation.Negotiation, error) {
	defer rows.Close()
	var out []*negotiation.Negotiation
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNegotiation(row pgx.Row) (*negotiation.Negotiation, error) {
	var n negotiation.Negotiation
	err := row.Scan(&n.ID, &n.RequestedItemID, &n.OfferedItemID, &n.RequesterID, &n.OwnerID, &n.Kind, &n.Status, &n.CloseReason, &n.CreatedAt, &n.UpdatedAt, &n.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}
