package auction

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/gavelworks/marketplace-backend/internal/domain/bid"
	"github.com/gavelworks/marketplace-backend/internal/domain/listing"
)

// ErrAlreadyFinalized is returned by ListingStore.Finalize when another
// finalize won the race. The engine absorbs it; callers never see it.
var ErrAlreadyFinalized = errors.New("listing already finalized")

// ListingStore owns listing persistence. Finalize is the only way a winner
// is ever recorded, and it is a conditional write: it succeeds at most once
// per listing regardless of how many evaluations race past the deadline.
type ListingStore interface {
	Create(ctx context.Context, l *listing.Listing) error
	GetByID(ctx context.Context, id uuid.UUID) (*listing.Listing, error)

	// Finalize atomically sets winnerID and soldAt together, conditional on
	// the listing not yet being sold. Returns ErrAlreadyFinalized if a
	// concurrent finalize got there first.
	Finalize(ctx context.Context, listingID, winnerID uuid.UUID, soldAt time.Time) error

	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*listing.Listing, error)
	ListByWinner(ctx context.Context, winnerID uuid.UUID) ([]*listing.Listing, error)

	// Delete is an administrative override; callers must purge bids first.
	Delete(ctx context.Context, listingID uuid.UUID) error
}

// BidStore is the append-only bid ledger and the arbitration oracle.
type BidStore interface {
	// Record durably appends a bid and returns the stored record. When the
	// bid carries an idempotency key that already exists for the listing,
	// the previously stored bid is returned instead of appending again.
	Record(ctx context.Context, b *bid.Bid) (*bid.Bid, error)

	// HighestBid returns the maximum-amount bid for the listing, ties broken
	// by earliest placedAt, or nil if the listing has no bids. It must
	// reflect every bid acknowledged before the call began.
	HighestBid(ctx context.Context, listingID uuid.UUID) (*bid.Bid, error)

	// ListByListing returns the full bid history ordered by amount
	// descending, placedAt ascending.
	ListByListing(ctx context.Context, listingID uuid.UUID) ([]*bid.Bid, error)

	ListByBidder(ctx context.Context, bidderID uuid.UUID) ([]*bid.Bid, error)

	// PurgeListing removes all bids for a listing. Administrative deletion
	// only; bids are otherwise immutable.
	PurgeListing(ctx context.Context, listingID uuid.UUID) error
}

// MetricsCollector receives engine events. Implementations must be safe for
// concurrent use; a nil collector disables metrics.
type MetricsCollector interface {
	RecordBidAccepted(ctx context.Context)
	RecordBidRejected(ctx context.Context, reason string)
	RecordFinalization(ctx context.Context)
	ObserveEvaluateDuration(ctx context.Context, d time.Duration)
}
