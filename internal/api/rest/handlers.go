package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	domainerrors "github.com/gavelworks/marketplace-backend/internal/domain/errors"
	"github.com/gavelworks/marketplace-backend/internal/domain/values"
	"github.com/gavelworks/marketplace-backend/internal/infrastructure/auth"
	"github.com/gavelworks/marketplace-backend/internal/service/auction"
)

// Handler serves the auction HTTP API. It is transport glue only: every
// domain decision is delegated to the engine.
type Handler struct {
	engine   *auction.Engine
	bids     auction.BidStore
	gate     auth.AccessGate
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler creates the API handler.
func NewHandler(engine *auction.Engine, bids auction.BidStore, gate auth.AccessGate, logger *slog.Logger) *Handler {
	return &Handler{
		engine:   engine,
		bids:     bids,
		gate:     gate,
		logger:   logger,
		validate: validator.New(),
	}
}

// handleLogin issues a bearer token. Identity here is self-asserted; this
// is the demo-grade flow, not an account system.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	userID := uuid.New()
	if req.UserID != "" {
		parsed, err := uuid.Parse(req.UserID)
		if err != nil {
			writeErrorBody(w, http.StatusBadRequest, "INVALID_USER_ID", "user_id must be a UUID")
			return
		}
		userID = parsed
	}

	token, err := h.gate.IssueToken(userID, req.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token, UserID: userID.String()})
}

func (h *Handler) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Authorization required")
		return
	}

	var req createListingRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	l, err := h.engine.CreateListing(r.Context(), identity.UserID, req.Title, req.Description, req.Currency, req.ExpiresAt)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toListingResponse(l, l.StatusAt(l.CreatedAt), nil))
}

// handleGetListing is the evaluate-on-read path: fetching a listing derives
// its current state and, when the deadline has passed, finalizes it.
func (h *Handler) handleGetListing(w http.ResponseWriter, r *http.Request) {
	listingID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	ev, err := h.engine.Evaluate(r.Context(), listingID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	l, err := h.engine.GetListing(r.Context(), listingID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	history, err := h.bids.ListByListing(r.Context(), listingID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listingDetailResponse{
		listingResponse: toListingResponse(l, ev.Status, ev.WinnerID),
		Bids:            toBidResponses(history),
	})
}

func (h *Handler) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Authorization required")
		return
	}

	listingID, idOK := h.pathID(w, r)
	if !idOK {
		return
	}

	var req placeBidRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	amount, err := values.NewMoney(req.AmountMinorUnits, req.Currency)
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
		return
	}

	result, err := h.engine.PlaceBid(r.Context(), auction.PlaceBidRequest{
		ListingID:      listingID,
		BidderID:       identity.UserID,
		Amount:         amount,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if !result.Accepted {
		status := http.StatusUnprocessableEntity
		if result.Reason == auction.ReasonInvalidAmount {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, placeBidResponse{
			Accepted: false,
			Reason:   string(result.Reason),
		})
		return
	}

	br := toBidResponse(result.Bid)
	writeJSON(w, http.StatusCreated, placeBidResponse{
		Accepted: true,
		Won:      result.Won,
		Bid:      &br,
	})
}

func (h *Handler) handleListBids(w http.ResponseWriter, r *http.Request) {
	listingID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	// Evaluate first so the history is served against settled state.
	if _, err := h.engine.Evaluate(r.Context(), listingID); err != nil {
		h.writeError(w, r, err)
		return
	}

	history, err := h.bids.ListByListing(r.Context(), listingID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]bidResponse{"bids": toBidResponses(history)})
}

func (h *Handler) handleDeleteListing(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Authorization required")
		return
	}

	listingID, idOK := h.pathID(w, r)
	if !idOK {
		return
	}

	l, err := h.engine.GetListing(r.Context(), listingID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if l.OwnerID != identity.UserID {
		writeErrorBody(w, http.StatusForbidden, "FORBIDDEN", "Only the owner may delete a listing")
		return
	}

	if err := h.engine.DeleteListing(r.Context(), listingID); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleMyListings returns the caller's own listings, rendered against
// current state via evaluation.
func (h *Handler) handleMyListings(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Authorization required")
		return
	}

	owned, err := h.engine.ListingsByOwner(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]listingResponse, 0, len(owned))
	for _, l := range owned {
		ev, err := h.engine.Evaluate(r.Context(), l.ID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		out = append(out, toListingResponse(l, ev.Status, ev.WinnerID))
	}

	writeJSON(w, http.StatusOK, map[string][]listingResponse{"listings": out})
}

func (h *Handler) handleMyBids(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Authorization required")
		return
	}

	history, err := h.bids.ListByBidder(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]bidResponse{"bids": toBidResponses(history)})
}

func (h *Handler) handleMyWins(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "Authorization required")
		return
	}

	won, err := h.engine.ListingsByWinner(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]listingResponse, 0, len(won))
	for _, l := range won {
		out = append(out, toListingResponse(l, l.StatusAt(l.UpdatedAt), l.WinnerID))
	}

	writeJSON(w, http.StatusOK, map[string][]listingResponse{"listings": out})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, "INVALID_LISTING_ID", "listing id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "INVALID_BODY", "Request body is not valid JSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return false
	}
	return true
}

// writeError maps domain errors onto HTTP responses using their embedded
// status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *domainerrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Type == domainerrors.ErrorTypeInternal {
			h.logger.ErrorContext(r.Context(), "request failed",
				slog.String("path", r.URL.Path),
				slog.Any("error", err),
			)
		}
		writeErrorBody(w, appErr.StatusCode, appErr.Code, appErr.Message)
		return
	}

	h.logger.ErrorContext(r.Context(), "unhandled error",
		slog.String("path", r.URL.Path),
		slog.Any("error", err),
	)
	writeErrorBody(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeErrorBody(w, http.StatusUnauthorized, "UNAUTHORIZED", message)
}
