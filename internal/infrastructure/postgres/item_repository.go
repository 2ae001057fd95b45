package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/swapshelf/swapshelf/internal/domain/item"
)

const itemColumns = `id, owner_id, title, author, condition, description, image_url, availability, reserved_by, created_at, updated_at`

// ItemRepository implements item.Repository.
type ItemRepository struct {
	db dbtx
}

func (r *ItemRepository) Create(ctx context.Context, it *item.Item) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, it.ID, it.OwnerID, it.Title, it.Author, it.Condition, it.Description, it.ImageURL, it.Availability, it.ReservedBy, it.CreatedAt, it.UpdatedAt)
	return err
}

func (r *ItemRepository) UpdateDetails(ctx context.Context, it *item.Item) error {
	_, err := r.db.Exec(ctx, `
		UPDATE items SET title=$2, author=$3, condition=$4, description=$5, image_url=$6, updated_at=$7
		WHERE id=$1
	`, it.ID, it.Title, it.Author, it.Condition, it.Description, it.ImageURL, it.UpdatedAt)
	return err
}

func (r *ItemRepository) Delete(ctx context.Context, itemID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM items WHERE id=$1`, itemID)
	return err
}

func (r *ItemRepository) GetByID(ctx context.Context, itemID uuid.UUID) (*item.Item, error) {
	row := r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, itemID)
	return scanItem(row)
}

func (r *ItemRepository) GetForUpdate(ctx context.Context, itemID uuid.UUID) (*item.Item, error) {
	row := r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1 FOR UPDATE`, itemID)
	return scanItem(row)
}

func (r *ItemRepository) GetMany(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]*item.Item, error) {
	out := make(map[uuid.UUID]*item.Item, len(itemIDs))
	if len(itemIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ANY($1)`, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[it.ID] = it
	}
	return out, rows.Err()
}

// ApplyTransition updates the ledger fields only when the row still holds the
// expected availability and reservation.
func (r *ItemRepository) ApplyTransition(ctx context.Context, t item.Transition) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE items
		SET availability=$2, reserved_by=$3, owner_id=COALESCE($4, owner_id), updated_at=now()
		WHERE id=$1 AND availability=$5 AND reserved_by IS NOT DISTINCT FROM $6
	`, t.ItemID, t.To, t.ReservedBy, t.NewOwner, t.From, t.ExpectReservedBy)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ItemRepository) List(ctx context.Context, filter item.Filter, limit, offset int) ([]*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	args := []any{}
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		query += addWhere(query) + " owner_id=" + placeholder(len(args))
	}
	if filter.ExcludeOwnerID != nil {
		args = append(args, *filter.ExcludeOwnerID)
		query += addWhere(query) + " owner_id<>" + placeholder(len(args))
	}
	if filter.Availability != nil {
		args = append(args, *filter.Availability)
		query += addWhere(query) + " availability=" + placeholder(len(args))
	}
	query += " ORDER BY created_at DESC, id"
	query, args = appendPage(query, args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanItem(row pgx.Row) (*item.Item, error) {
	var it item.Item
	err := row.Scan(&it.ID, &it.OwnerID, &it.Title, &it.Author, &it.Condition, &it.Description, &it.ImageURL, &it.Availability, &it.ReservedBy, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &it, nil
}
