package profile

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// ErrNotFound is returned when no profile row exists for a user.
var ErrNotFound = errors.New("profile not found")

// UserProfile is the durable per-user state carried across sessions.
// Consent is tri-state: nil means the user has not been asked yet.
type UserProfile struct {
	UserID        string            `json:"user_id"`
	Username      string            `json:"username,omitempty"`
	Email         string            `json:"email,omitempty"`
	Consent       *bool             `json:"consent"`
	CurrentStage  int               `json:"current_stage"`
	Instructions  []string          `json:"instructions"`
	RunningNotes  string            `json:"running_notes"`
	SessionParams map[string]string `json:"session_params"`
	LastSeenMS    int64             `json:"last_seen_ms"`
	CreatedAtMS   int64             `json:"created_at_ms"`
	UpdatedAtMS   int64             `json:"updated_at_ms"`
}

// HasConsent reports whether the user has affirmatively opted in.
func (p *UserProfile) HasConsent() bool {
	return p != nil && p.Consent != nil && *p.Consent
}

// ConsentUnset reports whether the user has never answered the consent
// question.
func (p *UserProfile) ConsentUnset() bool {
	return p == nil || p.Consent == nil
}

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeUserID maps arbitrary external identifiers onto a stable key
// safe for storage paths and collection names. Empty input becomes
// "anonymous_user"; identifiers starting with a digit get a "user_"
// prefix so they never collide with numeric row ids.
func SanitizeUserID(raw string) string {
	id := unsafeIDChars.ReplaceAllString(strings.TrimSpace(raw), "_")
	if id == "" {
		return "anonymous_user"
	}
	if unicode.IsDigit(rune(id[0])) {
		id = "user_" + id
	}
	return id
}
