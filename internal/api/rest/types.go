package rest

import (
	"time"

	"github.com/google/uuid"

	"github.com/gavelworks/marketplace-backend/internal/domain/bid"
	"github.com/gavelworks/marketplace-backend/internal/domain/listing"
)

type loginRequest struct {
	Username string `json:"username" validate:"required,min=1,max=64"`
	// UserID lets returning users keep their identity across tokens.
	// Omitted for first-time callers; a fresh ID is minted.
	UserID string `json:"user_id,omitempty" validate:"omitempty,uuid"`
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

type createListingRequest struct {
	Title       string    `json:"title" validate:"required,min=1,max=200"`
	Description string    `json:"description" validate:"max=4000"`
	Currency    string    `json:"currency" validate:"required,len=3"`
	ExpiresAt   time.Time `json:"expires_at" validate:"required"`
}

type placeBidRequest struct {
	AmountMinorUnits int64  `json:"amount_minor_units" validate:"required"`
	Currency         string `json:"currency" validate:"required,len=3"`
	IdempotencyKey   string `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

type listingResponse struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Currency    string     `json:"currency"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Status      string     `json:"status"`
	WinnerID    *uuid.UUID `json:"winner_id,omitempty"`
	SoldAt      *time.Time `json:"sold_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type listingDetailResponse struct {
	listingResponse
	Bids []bidResponse `json:"bids"`
}

type bidResponse struct {
	ID               uuid.UUID `json:"id"`
	ListingID        uuid.UUID `json:"listing_id"`
	BidderID         uuid.UUID `json:"bidder_id"`
	AmountMinorUnits int64     `json:"amount_minor_units"`
	Currency         string    `json:"currency"`
	PlacedAt         time.Time `json:"placed_at"`
}

type placeBidResponse struct {
	Accepted bool         `json:"accepted"`
	Won      bool         `json:"won"`
	Reason   string       `json:"reason,omitempty"`
	Bid      *bidResponse `json:"bid,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toListingResponse(l *listing.Listing, status listing.Status, winnerID *uuid.UUID) listingResponse {
	return listingResponse{
		ID:          l.ID,
		OwnerID:     l.OwnerID,
		Title:       l.Title,
		Description: l.Description,
		Currency:    l.Currency,
		ExpiresAt:   l.ExpiresAt,
		Status:      status.String(),
		WinnerID:    winnerID,
		SoldAt:      l.SoldAt,
		CreatedAt:   l.CreatedAt,
	}
}

func toBidResponse(b *bid.Bid) bidResponse {
	return bidResponse{
		ID:               b.ID,
		ListingID:        b.ListingID,
		BidderID:         b.BidderID,
		AmountMinorUnits: b.Amount.MinorUnits(),
		Currency:         b.Amount.Currency(),
		PlacedAt:         b.PlacedAt,
	}
}

func toBidResponses(bids []*bid.Bid) []bidResponse {
	out := make([]bidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, toBidResponse(b))
	}
	return out
}
