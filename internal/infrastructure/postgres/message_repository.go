package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swapshelf/swapshelf/internal/domain/message"
)

const messageColumns = `id, negotiation_id, sender_id, body, seq, created_at`

// MessageRepository implements message.Repository.
type MessageRepository struct {
	db dbtx
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: pool}
}

func (r *MessageRepository) Append(ctx context.Context, m *message.Message) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO messages (`+messageColumns+`) VALUES ($1,$2,$3,$4,$5,$6)
	`, m.ID, m.NegotiationID, m.SenderID, m.Body, m.Seq, m.Timestamp)
	if _, ok := uniqueViolation(err); ok {
		return fmt.Errorf("message seq %d already used in negotiation %s: %w", m.Seq, m.NegotiationID, err)
	}
	return err
}

func (r *MessageRepository) Latest(ctx context.Context, negotiationID uuid.UUID) (*message.Message, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE negotiation_id=$1 ORDER BY seq DESC LIMIT 1
	`, negotiationID)
	return scanMessage(row)
}

func (r *MessageRepository) List(ctx context.Context, negotiationID uuid.UUID, afterSeq int64, limit int) ([]*message.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE negotiation_id=$1 AND seq > $2 ORDER BY seq`
	query, args := appendPage(query, []any{negotiationID, afterSeq}, limit, 0)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*message.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row) (*message.Message, error) {
	var m message.Message
	if err := row.Scan(&m.ID, &m.NegotiationID, &m.SenderID, &m.Body, &m.Seq, &m.Timestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}
