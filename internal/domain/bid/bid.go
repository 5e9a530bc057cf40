package bid

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gavelworks/marketplace-backend/internal/domain/values"
)

// Bid is an immutable, timestamped monetary offer against a listing.
// Once recorded it is never updated or retracted; winner selection always
// re-derives the maximum from the stored set.
type Bid struct {
	ID        uuid.UUID    `json:"id"`
	ListingID uuid.UUID    `json:"listing_id"`
	BidderID  uuid.UUID    `json:"bidder_id"`
	Amount    values.Money `json:"amount"`
	PlacedAt  time.Time    `json:"placed_at"`

	// IdempotencyKey lets a caller retry a submission after an ambiguous
	// storage outcome without risking a duplicate append. Optional.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// New creates a bid ready for appending. Amount must be strictly positive;
// the relative "greater than current high" rule belongs to the engine, not
// the entity.
func New(listingID, bidderID uuid.UUID, amount values.Money, placedAt time.Time) (*Bid, error) {
	if listingID == uuid.Nil {
		return nil, fmt.Errorf("listing ID cannot be nil")
	}
	if bidderID == uuid.Nil {
		return nil, fmt.Errorf("bidder ID cannot be nil")
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", amount)
	}

	return &Bid{
		ID:        uuid.New(),
		ListingID: listingID,
		BidderID:  bidderID,
		Amount:    amount,
		PlacedAt:  placedAt,
	}, nil
}

// WithIdempotencyKey tags the bid for duplicate-safe retries.
func (b *Bid) WithIdempotencyKey(key string) *Bid {
	b.IdempotencyKey = key
	return b
}

// Outranks reports whether b beats other under the arbitration ordering:
// higher amount wins, ties broken by earlier placedAt.
func (b *Bid) Outranks(other *Bid) bool {
	switch b.Amount.Compare(other.Amount) {
	case 1:
		return true
	case -1:
		return false
	default:
		return b.PlacedAt.Before(other.PlacedAt)
	}
}
