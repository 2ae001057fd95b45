package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swapshelf/swapshelf/internal/domain/participant"
)

const participantColumns = `id, username, email, password_hash, contact_info, bio, avatar_url, created_at, updated_at`

// ParticipantRepository implements participant.Repository.
type ParticipantRepository struct {
	db dbtx
}

func NewParticipantRepository(pool *pgxpool.Pool) *ParticipantRepository {
	return &ParticipantRepository{db: pool}
}

func (r *ParticipantRepository) Create(ctx context.Context, p *participant.Participant) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO participants (`+participantColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, p.ID, p.Username, p.Email, p.PasswordHash, p.ContactInfo, p.Bio, p.AvatarURL, p.CreatedAt, p.UpdatedAt)
	if _, ok := uniqueViolation(err); ok {
		return participant.ErrDuplicate
	}
	return err
}

func (r *ParticipantRepository) Update(ctx context.Context, p *participant.Participant) error {
	_, err := r.db.Exec(ctx, `
		UPDATE participants SET contact_info=$2, bio=$3, avatar_url=$4, password_hash=$5, updated_at=$6
		WHERE id=$1
	`, p.ID, p.ContactInfo, p.Bio, p.AvatarURL, p.PasswordHash, p.UpdatedAt)
	return err
}

func (r *ParticipantRepository) GetByID(ctx context.Context, participantID uuid.UUID) (*participant.Participant, error) {
	row := r.db.QueryRow(ctx, `SELECT `+participantColumns+` FROM participants WHERE id=$1`, participantID)
	return scanParticipant(row)
}

func (r *ParticipantRepository) GetByEmail(ctx context.Context, email string) (*participant.Participant, error) {
	row := r.db.QueryRow(ctx, `SELECT `+participantColumns+` FROM participants WHERE email=$1`, email)
	return scanParticipant(row)
}

func (r *ParticipantRepository) GetMany(ctx context.Context, participantIDs []uuid.UUID) (map[uuid.UUID]*participant.Participant, error) {
	out := make(map[uuid.UUID]*participant.Participant, len(participantIDs))
	if len(participantIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = ANY($1)`, participantIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func scanParticipant(row pgx.Row) (*participant.Participant, error) {
	var p participant.Participant
	err := row.Scan(&p.ID, &p.Username, &p.Email, &p.PasswordHash, &p.ContactInfo, &p.Bio, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}
