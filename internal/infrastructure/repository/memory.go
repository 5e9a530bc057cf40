package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gavelworks/marketplace-backend/internal/domain/bid"
	domainerrors "github.com/gavelworks/marketplace-backend/internal/domain/errors"
	"github.com/gavelworks/marketplace-backend/internal/domain/listing"
	"github.com/gavelworks/marketplace-backend/internal/service/auction"
)

// MemoryListingStore is a concurrency-safe in-memory auction.ListingStore.
// It honors the same conditional-write contract as the PostgreSQL store, so
// the engine's race guarantees hold identically under either driver.
type MemoryListingStore struct {
	mu       sync.RWMutex
	listings map[uuid.UUID]*listing.Listing
}

// NewMemoryListingStore creates an empty in-memory listing store.
func NewMemoryListingStore() *MemoryListingStore {
	return &MemoryListingStore{
		listings: make(map[uuid.UUID]*listing.Listing),
	}
}

func (s *MemoryListingStore) Create(_ context.Context, l *listing.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.listings[l.ID]; exists {
		return domainerrors.NewConflictError("listing already exists")
	}

	cp := *l
	s.listings[l.ID] = &cp
	return nil
}

func (s *MemoryListingStore) GetByID(_ context.Context, id uuid.UUID) (*listing.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[id]
	if !ok {
		return nil, domainerrors.ErrListingNotFound
	}

	cp := *l
	return &cp, nil
}

// Finalize performs the compare-and-set under the store lock: exactly one
// caller ever observes success for a given listing.
func (s *MemoryListingStore) Finalize(_ context.Context, listingID, winnerID uuid.UUID, soldAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[listingID]
	if !ok {
		return domainerrors.ErrListingNotFound
	}
	if l.IsSold() {
		return auction.ErrAlreadyFinalized
	}

	return l.MarkSold(winnerID, soldAt)
}

func (s *MemoryListingStore) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]*listing.Listing, error) {
	return s.filter(func(l *listing.Listing) bool { return l.OwnerID == ownerID }), nil
}

func (s *MemoryListingStore) ListByWinner(_ context.Context, winnerID uuid.UUID) ([]*listing.Listing, error) {
	return s.filter(func(l *listing.Listing) bool {
		return l.WinnerID != nil && *l.WinnerID == winnerID
	}), nil
}

func (s *MemoryListingStore) Delete(_ context.Context, listingID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listings[listingID]; !ok {
		return domainerrors.ErrListingNotFound
	}
	delete(s.listings, listingID)
	return nil
}

func (s *MemoryListingStore) filter(keep func(*listing.Listing) bool) []*listing.Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*listing.Listing
	for _, l := range s.listings {
		if keep(l) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// MemoryBidStore is a concurrency-safe in-memory auction.BidStore.
type MemoryBidStore struct {
	mu     sync.RWMutex
	bids   map[uuid.UUID][]*bid.Bid          // listingID -> appended bids
	byKey  map[uuid.UUID]map[string]*bid.Bid // listingID -> idempotency key -> bid
	failed bool
}

// NewMemoryBidStore creates an empty in-memory bid store.
func NewMemoryBidStore() *MemoryBidStore {
	return &MemoryBidStore{
		bids:  make(map[uuid.UUID][]*bid.Bid),
		byKey: make(map[uuid.UUID]map[string]*bid.Bid),
	}
}

// FailWrites makes subsequent Record calls return a storage failure.
// Test hook for exercising the engine's fault path.
func (s *MemoryBidStore) FailWrites(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = fail
}

func (s *MemoryBidStore) Record(_ context.Context, b *bid.Bid) (*bid.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed {
		return nil, domainerrors.NewStorageError("bid store unavailable")
	}

	if b.IdempotencyKey != "" {
		if prior, ok := s.byKey[b.ListingID][b.IdempotencyKey]; ok {
			cp := *prior
			return &cp, nil
		}
	}

	// All bids on a listing share one currency. Enforced here under the
	// write lock so ranking reads can compare amounts unconditionally.
	if existing := s.bids[b.ListingID]; len(existing) > 0 {
		if existing[0].Amount.Currency() != b.Amount.Currency() {
			return nil, domainerrors.NewValidationError("CURRENCY_MISMATCH",
				fmt.Sprintf("bid currency %s does not match listing bids in %s",
					b.Amount.Currency(), existing[0].Amount.Currency()))
		}
	}

	cp := *b
	s.bids[b.ListingID] = append(s.bids[b.ListingID], &cp)
	if cp.IdempotencyKey != "" {
		if s.byKey[cp.ListingID] == nil {
			s.byKey[cp.ListingID] = make(map[string]*bid.Bid)
		}
		s.byKey[cp.ListingID][cp.IdempotencyKey] = &cp
	}

	out := cp
	return &out, nil
}

func (s *MemoryBidStore) HighestBid(_ context.Context, listingID uuid.UUID) (*bid.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bids := s.bids[listingID]
	if len(bids) == 0 {
		return nil, nil
	}

	winning := bids[0]
	for _, b := range bids[1:] {
		if b.Outranks(winning) {
			winning = b
		}
	}

	cp := *winning
	return &cp, nil
}

func (s *MemoryBidStore) ListByListing(_ context.Context, listingID uuid.UUID) ([]*bid.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*bid.Bid, 0, len(s.bids[listingID]))
	for _, b := range s.bids[listingID] {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Outranks(out[j])
	})
	return out, nil
}

func (s *MemoryBidStore) ListByBidder(_ context.Context, bidderID uuid.UUID) ([]*bid.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*bid.Bid
	for _, bids := range s.bids {
		for _, b := range bids {
			if b.BidderID == bidderID {
				cp := *b
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].PlacedAt.After(out[j].PlacedAt)
	})
	return out, nil
}

func (s *MemoryBidStore) PurgeListing(_ context.Context, listingID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.bids, listingID)
	delete(s.byKey, listingID)
	return nil
}

// Count returns the number of bids stored for a listing. Test helper.
func (s *MemoryBidStore) Count(listingID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bids[listingID])
}
