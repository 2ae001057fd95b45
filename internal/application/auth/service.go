package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swapshelf/swapshelf/internal/apperr"
	domain "github.com/swapshelf/swapshelf/internal/domain/participant"
)

// Service handles registration, login and token checks.
type Service struct {
	repo          domain.Repository
	tokens        TokenConfig
	allowedDomain string
	logger        zerolog.Logger
	now           func() time.Time
}

// NewService creates an auth service. An empty allowedDomain accepts any
// email address.
func NewService(repo domain.Repository, tokens TokenConfig, allowedDomain string, logger zerolog.Logger) *Service {
	return &Service{
		repo:          repo,
		tokens:        tokens,
		allowedDomain: allowedDomain,
		logger:        logger.With().Str("service", "auth").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// RegisterInput defines registration input.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginResult contains the participant and their access token.
type LoginResult struct {
	Participant *domain.Participant
	Token       string
	ExpiresAt   time.Time
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (*LoginResult, error) {
	username := domain.NormalizeUsername(input.Username)
	email := domain.NormalizeEmail(input.Email)
	if err := domain.ValidateUsername(username); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, err, err.Error())
	}
	if err := domain.ValidateEmail(email, s.allowedDomain); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, err, err.Error())
	}
	if err := domain.ValidatePassword(input.Password, username); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, err, err.Error())
	}
	hash, err := domain.HashPassword(input.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to hash password")
	}

	now := s.now()
	p := &domain.Participant{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, apperr.Wrap(apperr.CodeConflict, err, "username or email already registered")
		}
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to create participant")
	}
	s.logger.Info().Str("participant_id", p.ID.String()).Str("username", p.Username).Msg("participant registered")
	return s.issue(p)
}

// Login authenticates by email and password.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	p, err := s.repo.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to load participant")
	}
	if p == nil || !domain.VerifyPassword(p.PasswordHash, password) {
		return nil, apperr.New(apperr.CodeUnauthorized, "invalid email or password")
	}
	s.logger.Info().Str("participant_id", p.ID.String()).Msg("participant login")
	return s.issue(p)
}

// Authenticate validates an access token and returns its participant.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.Participant, error) {
	if token == "" {
		return nil, apperr.New(apperr.CodeUnauthorized, "missing token")
	}
	claims, err := ParseToken(s.tokens, token)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUnauthorized, err, "invalid token")
	}
	p, err := s.repo.GetByID(ctx, claims.ParticipantID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to load participant")
	}
	if p == nil {
		return nil, apperr.New(apperr.CodeUnauthorized, "participant no longer exists")
	}
	return p, nil
}

func (s *Service) issue(p *domain.Participant) (*LoginResult, error) {
	token, expiresAt, err := MintToken(s.tokens, s.now(), p.ID, p.Username)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to issue token")
	}
	return &LoginResult{Participant: p, Token: token, ExpiresAt: expiresAt}, nil
}
