package listing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gavelworks/marketplace-backend/internal/domain/values"
)

// Listing is an item up for auction with a fixed expiration deadline.
// Status is never stored: it is derived from WinnerID/SoldAt and the
// evaluation time, so a row can never claim a state its fields contradict.
type Listing struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`

	// Currency is pinned at creation; every bid on the listing must carry
	// the same code, so amounts for one listing are always comparable.
	Currency string `json:"currency"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Finalization fields, written together exactly once by the engine.
	// WinnerID != nil iff SoldAt != nil.
	SoldAt   *time.Time `json:"sold_at,omitempty"`
	WinnerID *uuid.UUID `json:"winner_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Status is the derived lifecycle state of a listing.
type Status int

const (
	// StatusOpen means the deadline has not passed and no winner is recorded.
	StatusOpen Status = iota
	// StatusExpiredUnsold means the deadline passed with no bid ever placed.
	// Terminal; the listing is never retried.
	StatusExpiredUnsold
	// StatusSold means a winner is recorded. Terminal.
	StatusSold
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusExpiredUnsold:
		return "expired_unsold"
	case StatusSold:
		return "sold"
	default:
		return "unknown"
	}
}

// NewListing creates an Open listing. The seller-side flow validates the
// fields upstream; the same invariants are re-checked here so a listing can
// never be constructed in a state the engine does not expect. The caller
// supplies now from its own clock.
func NewListing(ownerID uuid.UUID, title, description, currency string, expiresAt, now time.Time) (*Listing, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("owner ID cannot be nil")
	}
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("title cannot be empty")
	}
	if err := values.ValidateCurrency(currency); err != nil {
		return nil, err
	}
	if !expiresAt.After(now) {
		return nil, fmt.Errorf("expiration %s is not in the future", expiresAt)
	}

	return &Listing{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Title:       title,
		Description: description,
		Currency:    strings.ToUpper(currency),
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		UpdatedAt:   now,
	}, nil
}

// StatusAt derives the listing state at the given instant. Sold is checked
// first so a finalized listing reports Sold regardless of now.
func (l *Listing) StatusAt(now time.Time) Status {
	if l.IsSold() {
		return StatusSold
	}
	if now.Before(l.ExpiresAt) {
		return StatusOpen
	}
	return StatusExpiredUnsold
}

// IsSold reports whether a winner has been recorded.
func (l *Listing) IsSold() bool {
	return l.WinnerID != nil && l.SoldAt != nil
}

// MarkSold records the finalization fields on the in-memory copy after a
// successful conditional write. Both fields are set together; callers never
// touch WinnerID or SoldAt directly.
func (l *Listing) MarkSold(winnerID uuid.UUID, soldAt time.Time) error {
	if l.IsSold() {
		return fmt.Errorf("listing %s already sold", l.ID)
	}
	if winnerID == uuid.Nil {
		return fmt.Errorf("winner ID cannot be nil")
	}

	l.WinnerID = &winnerID
	l.SoldAt = &soldAt
	l.UpdatedAt = soldAt
	return nil
}
