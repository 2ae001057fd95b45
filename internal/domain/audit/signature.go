package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"time"
)

type signaturePayload struct {
	AuditID       string   `json:"auditId"`
	NegotiationID string   `json:"negotiationId"`
	Action        string   `json:"action"`
	ActorID       string   `json:"actorId,omitempty"`
	FromStatus    string   `json:"fromStatus,omitempty"`
	ToStatus      string   `json:"toStatus"`
	ItemIDs       []string `json:"itemIds"`
	Reason        string   `json:"reason,omitempty"`
	CreatedAt     string   `json:"createdAt"`
}

func buildSignaturePayload(log *AuditLog) signaturePayload {
	payload := signaturePayload{
		AuditID:       log.AuditID.String(),
		NegotiationID: log.NegotiationID.String(),
		Action:        string(log.Action),
		ToStatus:      string(log.ToStatus),
		ItemIDs:       make([]string, 0, len(log.ItemIDs)),
		Reason:        log.Reason,
		CreatedAt:     log.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if log.ActorID != nil {
		payload.ActorID = log.ActorID.String()
	}
	if log.FromStatus != nil {
		payload.FromStatus = string(*log.FromStatus)
	}
	for _, id := range log.ItemIDs {
		payload.ItemIDs = append(payload.ItemIDs, id.String())
	}
	return payload
}

// SignAuditLog generates an HMAC signature for the audit log.
func SignAuditLog(log *AuditLog, key []byte) ([]byte, error) {
	data, err := json.Marshal(buildSignaturePayload(log))
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(data)
	return mac.Sum(nil), nil
}

// VerifyAuditLogSignature verifies the HMAC signature for the audit log.
func VerifyAuditLogSignature(log *AuditLog, key []byte) (bool, error) {
	if len(log.Signature) == 0 {
		return false, nil
	}
	expected, err := SignAuditLog(log, key)
	if err != nil {
		return false, err
	}
	return hmac.Equal(expected, log.Signature), nil
}
