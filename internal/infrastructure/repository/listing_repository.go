package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	domainerrors "github.com/gavelworks/marketplace-backend/internal/domain/errors"
	"github.com/gavelworks/marketplace-backend/internal/domain/listing"
	"github.com/gavelworks/marketplace-backend/internal/service/auction"
)

// listingRepository implements auction.ListingStore on PostgreSQL.
type listingRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewListingRepository creates a PostgreSQL-backed listing store.
func NewListingRepository(pool *pgxpool.Pool, logger *zap.Logger) auction.ListingStore {
	return &listingRepository{pool: pool, logger: logger}
}

func (r *listingRepository) Create(ctx context.Context, l *listing.Listing) error {
	query := `
		INSERT INTO listings (
			id, owner_id, title, description, currency,
			created_at, expires_at, sold_at, winner_id, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		l.ID, l.OwnerID, l.Title, l.Description, l.Currency,
		l.CreatedAt, l.ExpiresAt, l.SoldAt, l.WinnerID, l.UpdatedAt,
	)
	if err != nil {
		return domainerrors.NewStorageError("failed to create listing").WithCause(err)
	}

	return nil
}

func (r *listingRepository) GetByID(ctx context.Context, id uuid.UUID) (*listing.Listing, error) {
	query := `
		SELECT id, owner_id, title, description, currency,
		       created_at, expires_at, sold_at, winner_id, updated_at
		FROM listings
		WHERE id = $1
	`

	l, err := scanListing(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainerrors.ErrListingNotFound
		}
		return nil, domainerrors.NewStorageError("failed to get listing").WithCause(err)
	}

	return l, nil
}

// Finalize is the compare-and-set that makes evaluation race-free: both
// winner fields are written in one statement, guarded on the listing still
// being unsold. Zero affected rows means another finalize already won.
func (r *listingRepository) Finalize(ctx context.Context, listingID, winnerID uuid.UUID, soldAt time.Time) error {
	query := `
		UPDATE listings
		SET winner_id = $2, sold_at = $3, updated_at = $3
		WHERE id = $1 AND winner_id IS NULL AND sold_at IS NULL
	`

	tag, err := r.pool.Exec(ctx, query, listingID, winnerID, soldAt)
	if err != nil {
		return domainerrors.NewStorageError("failed to finalize listing").WithCause(err)
	}

	if tag.RowsAffected() == 0 {
		// Either already finalized or the row is gone; disambiguate so a
		// bad ID surfaces as NotFound instead of a phantom lost race.
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM listings WHERE id = $1)`, listingID).Scan(&exists); err != nil {
			return domainerrors.NewStorageError("failed to check listing after finalize").WithCause(err)
		}
		if !exists {
			return domainerrors.ErrListingNotFound
		}
		return auction.ErrAlreadyFinalized
	}

	r.logger.Debug("listing finalized",
		zap.String("listing_id", listingID.String()),
		zap.String("winner_id", winnerID.String()))
	return nil
}

func (r *listingRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*listing.Listing, error) {
	query := `
		SELECT id, owner_id, title, description, currency,
		       created_at, expires_at, sold_at, winner_id, updated_at
		FROM listings
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`
	return r.queryListings(ctx, query, ownerID)
}

func (r *listingRepository) ListByWinner(ctx context.Context, winnerID uuid.UUID) ([]*listing.Listing, error) {
	query := `
		SELECT id, owner_id, title, description, currency,
		       created_at, expires_at, sold_at, winner_id, updated_at
		FROM listings
		WHERE winner_id = $1
		ORDER BY sold_at DESC
	`
	return r.queryListings(ctx, query, winnerID)
}

func (r *listingRepository) Delete(ctx context.Context, listingID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM listings WHERE id = $1`, listingID)
	if err != nil {
		return domainerrors.NewStorageError("failed to delete listing").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrListingNotFound
	}
	return nil
}

func (r *listingRepository) queryListings(ctx context.Context, query string, arg any) ([]*listing.Listing, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, domainerrors.NewStorageError("failed to query listings").WithCause(err)
	}
	defer rows.Close()

	var listings []*listing.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, domainerrors.NewStorageError("failed to scan listing").WithCause(err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, domainerrors.NewStorageError("error iterating listings").WithCause(err)
	}

	return listings, nil
}

func scanListing(row pgx.Row) (*listing.Listing, error) {
	var l listing.Listing
	err := row.Scan(
		&l.ID, &l.OwnerID, &l.Title, &l.Description, &l.Currency,
		&l.CreatedAt, &l.ExpiresAt, &l.SoldAt, &l.WinnerID, &l.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	return &l, nil
}
