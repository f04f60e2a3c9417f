package types

import (
	"errors"
	"time"
)

// Store-level failures. Backends wrap these so callers can match with errors.Is.
var (
	ErrNotFound         = errors.New("link not found")
	ErrShortCodeTaken   = errors.New("short code already taken")
	ErrOriginalURLTaken = errors.New("original url already shortened")
)

type Link struct {
	ID          int64     `json:"id" db:"id"`
	OriginalURL string    `json:"original_url" db:"original_url"`
	ShortCode   string    `json:"short_code" db:"short_code"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at"`
	VisitCount  int64     `json:"visit_count" db:"visit_count"`
	OwnerID     *int64    `json:"owner_id,omitempty" db:"owner_id"`
}

// Expired reports whether the link's expiry moment is at or before now.
func (l *Link) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

type LinkStats struct {
	OriginalURL string    `json:"original_url"`
	ShortCode   string    `json:"short_code"`
	VisitCount  int64     `json:"visit_count"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// LinkUpdate carries the new values for an existing link. ShortCode equals the
// current code when no rename is requested.
type LinkUpdate struct {
	OriginalURL string
	ShortCode   string
}
