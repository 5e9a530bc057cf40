package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/gavelworks/marketplace-backend/internal/domain/bid"
	domainerrors "github.com/gavelworks/marketplace-backend/internal/domain/errors"
	"github.com/gavelworks/marketplace-backend/internal/domain/values"
	"github.com/gavelworks/marketplace-backend/internal/service/auction"
)

// uniqueViolation is the PostgreSQL error code hit when an idempotency key
// is replayed for the same listing.
const uniqueViolation = "23505"

// bidRepository implements auction.BidStore on PostgreSQL. Bids are
// append-only; the only delete path is the administrative listing purge.
type bidRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewBidRepository creates a PostgreSQL-backed bid store.
func NewBidRepository(pool *pgxpool.Pool, logger *zap.Logger) auction.BidStore {
	return &bidRepository{pool: pool, logger: logger}
}

func (r *bidRepository) Record(ctx context.Context, b *bid.Bid) (*bid.Bid, error) {
	query := `
		INSERT INTO bids (
			id, listing_id, bidder_id,
			amount_minor_units, currency, placed_at, idempotency_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	var key *string
	if b.IdempotencyKey != "" {
		key = &b.IdempotencyKey
	}

	_, err := r.pool.Exec(ctx, query,
		b.ID, b.ListingID, b.BidderID,
		b.Amount.MinorUnits(), b.Amount.Currency(), b.PlacedAt, key,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && key != nil {
			// Retried submission: return the bid recorded the first time.
			return r.getByIdempotencyKey(ctx, b.ListingID, *key)
		}
		return nil, domainerrors.NewStorageError("failed to record bid").WithCause(err)
	}

	return b, nil
}

// HighestBid is the arbitration oracle. The (listing_id, amount DESC,
// placed_at ASC) index makes this a single index probe.
func (r *bidRepository) HighestBid(ctx context.Context, listingID uuid.UUID) (*bid.Bid, error) {
	query := `
		SELECT id, listing_id, bidder_id,
		       amount_minor_units, currency, placed_at, idempotency_key
		FROM bids
		WHERE listing_id = $1
		ORDER BY amount_minor_units DESC, placed_at ASC
		LIMIT 1
	`

	b, err := scanBid(r.pool.QueryRow(ctx, query, listingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, domainerrors.NewStorageError("failed to get highest bid").WithCause(err)
	}

	return b, nil
}

func (r *bidRepository) ListByListing(ctx context.Context, listingID uuid.UUID) ([]*bid.Bid, error) {
	query := `
		SELECT id, listing_id, bidder_id,
		       amount_minor_units, currency, placed_at, idempotency_key
		FROM bids
		WHERE listing_id = $1
		ORDER BY amount_minor_units DESC, placed_at ASC
	`
	return r.queryBids(ctx, query, listingID)
}

func (r *bidRepository) ListByBidder(ctx context.Context, bidderID uuid.UUID) ([]*bid.Bid, error) {
	query := `
		SELECT id, listing_id, bidder_id,
		       amount_minor_units, currency, placed_at, idempotency_key
		FROM bids
		WHERE bidder_id = $1
		ORDER BY placed_at DESC
	`
	return r.queryBids(ctx, query, bidderID)
}

func (r *bidRepository) PurgeListing(ctx context.Context, listingID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM bids WHERE listing_id = $1`, listingID)
	if err != nil {
		return domainerrors.NewStorageError("failed to purge bids").WithCause(err)
	}

	r.logger.Info("purged bids for listing",
		zap.String("listing_id", listingID.String()),
		zap.Int64("removed", tag.RowsAffected()))
	return nil
}

func (r *bidRepository) getByIdempotencyKey(ctx context.Context, listingID uuid.UUID, key string) (*bid.Bid, error) {
	query := `
		SELECT id, listing_id, bidder_id,
		       amount_minor_units, currency, placed_at, idempotency_key
		FROM bids
		WHERE listing_id = $1 AND idempotency_key = $2
	`

	b, err := scanBid(r.pool.QueryRow(ctx, query, listingID, key))
	if err != nil {
		return nil, domainerrors.NewStorageError("failed to load bid by idempotency key").WithCause(err)
	}
	return b, nil
}

func (r *bidRepository) queryBids(ctx context.Context, query string, arg any) ([]*bid.Bid, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, domainerrors.NewStorageError("failed to query bids").WithCause(err)
	}
	defer rows.Close()

	var bids []*bid.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, domainerrors.NewStorageError("failed to scan bid").WithCause(err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, domainerrors.NewStorageError("error iterating bids").WithCause(err)
	}

	return bids, nil
}

func scanBid(row pgx.Row) (*bid.Bid, error) {
	var (
		b          bid.Bid
		minorUnits int64
		currency   string
		placedAt   time.Time
		key        *string
	)

	err := row.Scan(&b.ID, &b.ListingID, &b.BidderID, &minorUnits, &currency, &placedAt, &key)
	if err != nil {
		return nil, fmt.Errorf("scan bid: %w", err)
	}

	amount, err := values.NewMoney(minorUnits, currency)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount: %w", err)
	}
	b.Amount = amount
	b.PlacedAt = placedAt
	if key != nil {
		b.IdempotencyKey = *key
	}

	return &b, nil
}
