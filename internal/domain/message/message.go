package message

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MaxBodyLength bounds a chat message body in runes.
const MaxBodyLength = 2000

var ErrEmptyBody = errors.New("message body is required")

// Message is one persisted chat line of a negotiation channel.
type Message struct {
	ID            string    `json:"id"`
	NegotiationID uuid.UUID `json:"negotiationId"`
	SenderID      uuid.UUID `json:"senderId"`
	Body          string    `json:"body"`
	Seq           int64     `json:"seq"`
	Timestamp     time.Time `json:"timestamp"`
}

func NormalizeBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return "", errors.New("message body is too long")
	}
	return body, nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a lexically sortable message id for t.
func NewID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
