package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swapshelf/swapshelf/internal/domain/audit"
)

// Service records negotiation transitions.
type Service struct {
	repo    audit.Repository
	logger  zerolog.Logger
	signKey []byte
	pending sync.WaitGroup
}

// NewService creates a new audit service. A nil signKey disables signing.
func NewService(repo audit.Repository, logger zerolog.Logger, signKey []byte) *Service {
	return &Service{
		repo:    repo,
		signKey: signKey,
		logger:  logger.With().Str("service", "audit").Logger(),
	}
}

// Log creates a new audit log entry asynchronously. The entry is stamped
// before the write is handed off so the trail keeps call order.
func (s *Service) Log(ctx context.Context, entry *audit.Entry) {
	if entry != nil && entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.LogSync(context.WithoutCancel(ctx), entry); err != nil {
			s.logger.Error().Err(err).
				Str("negotiation_id", entry.NegotiationID.String()).
				Str("action", string(entry.Action)).
				Msg("failed to create audit log")
		}
	}()
}

// Wait blocks until every asynchronous Log call has finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// LogSync creates a new audit log entry synchronously
func (s *Service) LogSync(ctx context.Context, entry *audit.Entry) error {
	auditLog, err := audit.NewAuditLog(entry)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	if len(s.signKey) > 0 {
		sig, err := audit.SignAuditLog(auditLog, s.signKey)
		if err != nil {
			return fmt.Errorf("failed to sign audit log: %w", err)
		}
		auditLog.Signature = sig
	}

	if err := s.repo.Create(ctx, auditLog); err != nil {
		return fmt.Errorf("failed to save audit log: %w", err)
	}

	s.logger.Debug().
		Str("audit_id", auditLog.AuditID.String()).
		Str("negotiation_id", auditLog.NegotiationID.String()).
		Str("action", string(auditLog.Action)).
		Str("to_status", string(auditLog.ToStatus)).
		Msg("audit log created")
	return nil
}

// Trail returns the transitions of one negotiation in the order they were
// recorded, with signature verification when a key is configured.
func (s *Service) Trail(ctx context.Context, negotiationID uuid.UUID) ([]*TrailEntry, error) {
	logs, err := s.repo.ListByNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	out := make([]*TrailEntry, 0, len(logs))
	for _, l := range logs {
		entry := &TrailEntry{AuditLog: l}
		if len(s.signKey) > 0 {
			ok, err := audit.VerifyAuditLogSignature(l, s.signKey)
			if err != nil {
				return nil, fmt.Errorf("failed to verify audit log: %w", err)
			}
			entry.Verified = &ok
		}
		out = append(out, entry)
	}
	return out, nil
}

// TrailEntry is an audit log with its verification outcome.
type TrailEntry struct {
	*audit.AuditLog
	Verified *bool `json:"verified,omitempty"`
}
