package audit

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
)

func TestSignatureDetectsTampering(t *testing.T) {
	from := negotiation.StatusPending
	log, err := NewAuditLog(&Entry{
		NegotiationID: uuid.New(),
		Action:        ActionAccepted,
		FromStatus:    &from,
		ToStatus:      negotiation.StatusAccepted,
		ItemIDs:       []uuid.UUID{uuid.New()},
	})
	require.NoError(t, err)

	key := []byte("audit-key")
	log.Signature, err = SignAuditLog(log, key)
	require.NoError(t, err)

	ok, err := VerifyAuditLogSignature(log, key)
	require.NoError(t, err)
	assert.True(t, ok)

	log.ToStatus = negotiation.StatusRejected
	ok, err = VerifyAuditLogSignature(log, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewAuditLogRequiresNegotiation(t *testing.T) {
	_, err := NewAuditLog(&Entry{Action: ActionCreated})
	assert.Error(t, err)
	_, err = NewAuditLog(nil)
	assert.Error(t, err)
}
