package participant

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MaxBioLength bounds the free-text profile bio.
const MaxBioLength = 200

// ErrDuplicate is returned when a username or email is already registered.
var ErrDuplicate = errors.New("participant already exists")

// Participant is a registered member who owns items and negotiates.
type Participant struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	ContactInfo  string    `json:"contactInfo,omitempty"`
	Bio          string    `json:"bio,omitempty"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Profile is the public view of a participant shown to counterparties.
type Profile struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	ContactInfo string    `json:"contactInfo,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
}

func (p *Participant) Profile() Profile {
	return Profile{
		ID:          p.ID,
		Username:    p.Username,
		ContactInfo: p.ContactInfo,
		Bio:         p.Bio,
		AvatarURL:   p.AvatarURL,
	}
}

func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]{2,30}[A-Za-z0-9]$`)

func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username is required")
	}
	if !usernamePattern.MatchString(username) {
		return errors.New("username must be 4-32 chars, start with a letter, and contain only letters, digits, '.', '_' or '-'")
	}
	return nil
}

// ValidateEmail checks the address and, when allowedDomain is set, that it
// belongs to that domain.
func ValidateEmail(email, allowedDomain string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.New("email is invalid")
	}
	if allowedDomain == "" {
		return nil
	}
	at := strings.LastIndex(email, "@")
	if !strings.EqualFold(email[at+1:], strings.TrimPrefix(allowedDomain, "@")) {
		return errors.New("only " + allowedDomain + " emails are allowed")
	}
	return nil
}

func ValidatePassword(password string, username string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}
	if username != "" && strings.Contains(strings.ToLower(password), strings.ToLower(username)) {
		return errors.New("password must not contain username")
	}
	return nil
}

func ValidateBio(bio string) error {
	if utf8.RuneCountInString(bio) > MaxBioLength {
		return errors.New("bio must be at most 200 characters")
	}
	return nil
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func VerifyPassword(hash string, password string) bool {
	if hash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
