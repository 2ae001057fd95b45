package participant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/swapshelf/swapshelf/internal/apperr"
	domain "github.com/swapshelf/swapshelf/internal/domain/participant"
	"github.com/swapshelf/swapshelf/internal/domain/participant/mocks"
)

func TestUpdateProfile(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	repo := mocks.NewMockRepository(ctrl)
	id := uuid.New()
	stored := &domain.Participant{ID: id, Username: "reader01", Email: "r@campus.edu", PasswordHash: "hash"}

	repo.EXPECT().GetByID(ctx, id).Return(stored, nil)
	repo.EXPECT().Update(ctx, gomock.Any()).DoAndReturn(func(_ context.Context, p *domain.Participant) error {
		assert.Equal(t, "likes sci-fi", p.Bio)
		assert.Equal(t, "@reader on signal", p.ContactInfo)
		return nil
	})

	svc := NewService(repo, zerolog.Nop())
	bio, contact := "  likes sci-fi ", "@reader on signal"
	p, err := svc.UpdateProfile(ctx, id, ProfileInput{Bio: &bio, ContactInfo: &contact})
	require.NoError(t, err)
	assert.Equal(t, "likes sci-fi", p.Bio)
}

func TestUpdateProfileRejectsLongBio(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	repo := mocks.NewMockRepository(ctrl)
	id := uuid.New()
	repo.EXPECT().GetByID(ctx, id).Return(&domain.Participant{ID: id}, nil)

	bio := strings.Repeat("b", domain.MaxBioLength+1)
	_, err := NewService(repo, zerolog.Nop()).UpdateProfile(ctx, id, ProfileInput{Bio: &bio})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

func TestPublicProfile(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	repo := mocks.NewMockRepository(ctrl)
	id := uuid.New()
	repo.EXPECT().GetByID(ctx, id).Return(&domain.Participant{ID: id, Username: "reader01", Email: "secret@campus.edu", Bio: "hi"}, nil)
	repo.EXPECT().GetByID(ctx, gomock.Not(id)).Return(nil, nil)

	svc := NewService(repo, zerolog.Nop())
	profile, err := svc.PublicProfile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "reader01", profile.Username)
	assert.Equal(t, "hi", profile.Bio)

	_, err = svc.PublicProfile(ctx, uuid.New())
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestStorageErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	repo := mocks.NewMockRepository(ctrl)
	repo.EXPECT().GetByID(ctx, gomock.Any()).Return(nil, errors.New("conn reset"))

	_, err := NewService(repo, zerolog.Nop()).Me(ctx, uuid.New())
	assert.Equal(t, apperr.CodeStorageFailure, apperr.CodeOf(err))
}
