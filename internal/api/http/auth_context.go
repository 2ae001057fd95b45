package httpapi

import (
	"context"

	"github.com/google/uuid"
)

type authContextKey string

const authParticipantKey authContextKey = "authParticipant"

// AuthParticipant is the authenticated caller.
type AuthParticipant struct {
	ParticipantID uuid.UUID
	Username      string
}

func withAuthParticipant(ctx context.Context, p *AuthParticipant) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, authParticipantKey, p)
}

func authParticipantFromContext(ctx context.Context) *AuthParticipant {
	if v, ok := ctx.Value(authParticipantKey).(*AuthParticipant); ok {
		return v
	}
	return nil
}
