package participant

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swapshelf/swapshelf/internal/apperr"
	domain "github.com/swapshelf/swapshelf/internal/domain/participant"
)

// Service handles participant profiles.
type Service struct {
	repo   domain.Repository
	logger zerolog.Logger
}

// NewService creates a participant service.
func NewService(repo domain.Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("service", "participant").Logger(),
	}
}

// ProfileInput defines a profile update. Nil fields are left unchanged.
type ProfileInput struct {
	ContactInfo *string
	Bio         *string
	AvatarURL   *string
}

func (s *Service) Me(ctx context.Context, participantID uuid.UUID) (*domain.Participant, error) {
	return s.get(ctx, participantID)
}

func (s *Service) UpdateProfile(ctx context.Context, participantID uuid.UUID, input ProfileInput) (*domain.Participant, error) {
	p, err := s.get(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if input.Bio != nil {
		bio := strings.TrimSpace(*input.Bio)
		if err := domain.ValidateBio(bio); err != nil {
			return nil, apperr.Wrap(apperr.CodeValidation, err, err.Error())
		}
		p.Bio = bio
	}
	if input.ContactInfo != nil {
		p.ContactInfo = strings.TrimSpace(*input.ContactInfo)
	}
	if input.AvatarURL != nil {
		p.AvatarURL = strings.TrimSpace(*input.AvatarURL)
	}
	p.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to update profile")
	}
	s.logger.Info().Str("participant_id", p.ID.String()).Msg("profile updated")
	return p, nil
}

// PublicProfile returns what other participants may see.
func (s *Service) PublicProfile(ctx context.Context, participantID uuid.UUID) (*domain.Profile, error) {
	p, err := s.get(ctx, participantID)
	if err != nil {
		return nil, err
	}
	profile := p.Profile()
	return &profile, nil
}

func (s *Service) get(ctx context.Context, participantID uuid.UUID) (*domain.Participant, error) {
	p, err := s.repo.GetByID(ctx, participantID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to load participant")
	}
	if p == nil {
		return nil, apperr.Newf(apperr.CodeNotFound, "participant not found: %s", participantID)
	}
	return p, nil
}
