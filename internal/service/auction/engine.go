package auction

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gavelworks/marketplace-backend/internal/domain/bid"
	domainerrors "github.com/gavelworks/marketplace-backend/internal/domain/errors"
	"github.com/gavelworks/marketplace-backend/internal/domain/listing"
	"github.com/gavelworks/marketplace-backend/internal/domain/values"
)

// RejectReason classifies why a bid was not accepted. Rejections are
// expected business outcomes, not faults.
type RejectReason string

const (
	ReasonInvalidAmount RejectReason = "INVALID_AMOUNT"
	ReasonAuctionClosed RejectReason = "AUCTION_CLOSED"
	ReasonBidTooLow     RejectReason = "BID_TOO_LOW"
	ReasonSelfBid       RejectReason = "SELF_BID"
)

// Result is the structured outcome of PlaceBid.
type Result struct {
	Accepted bool
	// Won is set when this bid immediately won: the listing expired during
	// the request and this bid was the qualifying maximum.
	Won    bool
	Reason RejectReason
	Bid    *bid.Bid
}

// Evaluation is the outcome of Evaluate.
type Evaluation struct {
	Status   listing.Status
	WinnerID *uuid.UUID
}

// PlaceBidRequest carries an already-authenticated bidder identity; token
// validation happens at the transport boundary, never here.
type PlaceBidRequest struct {
	ListingID      uuid.UUID
	BidderID       uuid.UUID
	Amount         values.Money
	IdempotencyKey string
}

// Engine is the auction state machine: it derives listing state, arbitrates
// incoming bids, and performs winner selection. Correctness under concurrent
// callers comes entirely from the stores' atomicity contracts (the finalize
// CAS and read-committed highest-bid reads); the engine holds no locks.
type Engine struct {
	listings ListingStore
	bids     BidStore
	clock    listing.Clock
	logger   *slog.Logger
	metrics  MetricsCollector
}

// NewEngine creates an auction engine. logger must not be nil; metrics may be.
func NewEngine(listings ListingStore, bids BidStore, clock listing.Clock, logger *slog.Logger, metrics MetricsCollector) *Engine {
	if clock == nil {
		clock = listing.RealClock{}
	}
	return &Engine{
		listings: listings,
		bids:     bids,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
	}
}

// Evaluate derives the listing's current state and lazily finalizes it when
// the deadline has passed and bids exist. It is the single authority for
// finalization and is safe to call redundantly: once a listing is Sold every
// call returns the same winner with no further writes.
func (e *Engine) Evaluate(ctx context.Context, listingID uuid.UUID) (*Evaluation, error) {
	start := e.clock.Now()

	l, err := e.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}

	ev, err := e.evaluateListing(ctx, l)
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ObserveEvaluateDuration(ctx, e.clock.Now().Sub(start))
	}
	return ev, nil
}

// evaluateListing runs the state machine against an already-loaded listing.
func (e *Engine) evaluateListing(ctx context.Context, l *listing.Listing) (*Evaluation, error) {
	if l.IsSold() {
		return &Evaluation{Status: listing.StatusSold, WinnerID: l.WinnerID}, nil
	}

	now := e.clock.Now()
	if now.Before(l.ExpiresAt) {
		return &Evaluation{Status: listing.StatusOpen}, nil
	}

	// Deadline passed and not yet sold: winner selection.
	high, err := e.bids.HighestBid(ctx, l.ID)
	if err != nil {
		return nil, err
	}
	if high == nil {
		// No bid ever existed. Terminal, and deliberately unrecorded:
		// the absence of a winner is derivable forever.
		return &Evaluation{Status: listing.StatusExpiredUnsold}, nil
	}

	err = e.listings.Finalize(ctx, l.ID, high.BidderID, now)
	switch {
	case err == nil:
		if e.metrics != nil {
			e.metrics.RecordFinalization(ctx)
		}
		e.logger.InfoContext(ctx, "listing finalized",
			slog.String("listing_id", l.ID.String()),
			slog.String("winner_id", high.BidderID.String()),
			slog.Int64("winning_amount_minor_units", high.Amount.MinorUnits()),
		)
		winnerID := high.BidderID
		return &Evaluation{Status: listing.StatusSold, WinnerID: &winnerID}, nil

	case errors.Is(err, ErrAlreadyFinalized):
		// A concurrent evaluation won the race. Benign: re-read and report
		// the recorded outcome instead of propagating an error.
		fresh, err := e.listings.GetByID(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		return &Evaluation{Status: listing.StatusSold, WinnerID: fresh.WinnerID}, nil

	default:
		return nil, err
	}
}

// PlaceBid arbitrates a bid against the listing's state and current high
// bid. The acceptance check is advisory under concurrency: a bid that raced
// past a higher one is a wasted append, never a correctness violation,
// because finalization re-derives the true maximum from the store.
func (e *Engine) PlaceBid(ctx context.Context, req PlaceBidRequest) (*Result, error) {
	if !req.Amount.IsPositive() {
		return e.reject(ctx, req, ReasonInvalidAmount), nil
	}

	l, err := e.listings.GetByID(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}

	if req.Amount.Currency() != l.Currency {
		// The listing's currency is pinned at creation, so the check holds
		// even for the first bid and under concurrent first bids.
		return e.reject(ctx, req, ReasonInvalidAmount), nil
	}

	if l.OwnerID == req.BidderID {
		return e.reject(ctx, req, ReasonSelfBid), nil
	}

	ev, err := e.evaluateListing(ctx, l)
	if err != nil {
		return nil, err
	}
	if ev.Status != listing.StatusOpen {
		// Covers bids that were in flight before the deadline but processed
		// after it: arrival time is irrelevant, processing time decides.
		return e.reject(ctx, req, ReasonAuctionClosed), nil
	}

	high, err := e.bids.HighestBid(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	currentHigh := values.Zero(l.Currency)
	if high != nil {
		currentHigh = high.Amount
	}
	if !req.Amount.GreaterThan(currentHigh) {
		// Strictly greater required; a tie loses.
		return e.reject(ctx, req, ReasonBidTooLow), nil
	}

	newBid, err := bid.New(req.ListingID, req.BidderID, req.Amount, e.clock.Now())
	if err != nil {
		return nil, domainerrors.NewValidationError("INVALID_BID", err.Error()).WithCause(err)
	}
	if req.IdempotencyKey != "" {
		newBid.WithIdempotencyKey(req.IdempotencyKey)
	}

	recorded, err := e.bids.Record(ctx, newBid)
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RecordBidAccepted(ctx)
	}
	e.logger.InfoContext(ctx, "bid accepted",
		slog.String("listing_id", req.ListingID.String()),
		slog.String("bidder_id", req.BidderID.String()),
		slog.Int64("amount_minor_units", req.Amount.MinorUnits()),
	)

	// Re-evaluate: the clock may have crossed the deadline during this
	// request, in which case this very bid can be the qualifying maximum.
	// Bidding and expiration-triggered finalization are the same code path;
	// there is no background sweep.
	final, err := e.Evaluate(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}

	won := final.Status == listing.StatusSold &&
		final.WinnerID != nil && *final.WinnerID == req.BidderID

	return &Result{Accepted: true, Won: won, Bid: recorded}, nil
}

func (e *Engine) reject(ctx context.Context, req PlaceBidRequest, reason RejectReason) *Result {
	if e.metrics != nil {
		e.metrics.RecordBidRejected(ctx, string(reason))
	}
	e.logger.DebugContext(ctx, "bid rejected",
		slog.String("listing_id", req.ListingID.String()),
		slog.String("bidder_id", req.BidderID.String()),
		slog.String("reason", string(reason)),
	)
	return &Result{Accepted: false, Reason: reason}
}

// GetListing returns the stored listing without evaluating it. Callers that
// need the derived state pair this with Evaluate.
func (e *Engine) GetListing(ctx context.Context, listingID uuid.UUID) (*listing.Listing, error) {
	return e.listings.GetByID(ctx, listingID)
}

// ListingsByOwner returns a seller's listings, newest first.
func (e *Engine) ListingsByOwner(ctx context.Context, ownerID uuid.UUID) ([]*listing.Listing, error) {
	return e.listings.ListByOwner(ctx, ownerID)
}

// ListingsByWinner returns the listings a bidder has won.
func (e *Engine) ListingsByWinner(ctx context.Context, winnerID uuid.UUID) ([]*listing.Listing, error) {
	return e.listings.ListByWinner(ctx, winnerID)
}

// CreateListing persists a seller's new listing. Creation itself is
// collaborator glue; it lives on the engine only so transports have a single
// dependency for listing mutation.
func (e *Engine) CreateListing(ctx context.Context, ownerID uuid.UUID, title, description, currency string, expiresAt time.Time) (*listing.Listing, error) {
	l, err := listing.NewListing(ownerID, title, description, currency, expiresAt, e.clock.Now())
	if err != nil {
		return nil, domainerrors.NewValidationError("INVALID_LISTING", err.Error()).WithCause(err)
	}
	if err := e.listings.Create(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// DeleteListing is the administrative override. Bids are purged before the
// listing row so referential integrity holds at every step.
func (e *Engine) DeleteListing(ctx context.Context, listingID uuid.UUID) error {
	if _, err := e.listings.GetByID(ctx, listingID); err != nil {
		return err
	}
	if err := e.bids.PurgeListing(ctx, listingID); err != nil {
		return err
	}
	return e.listings.Delete(ctx, listingID)
}
