package clusterlink

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ErrConflictingLink is returned when the secondary is already linked under a
// different primary. A concurrent merge committed first; callers re-read the
// forest and retry.
var ErrConflictingLink = httperror.NewHTTPError(http.StatusConflict, "customer is already linked under another primary")

// Repository handles cluster link persistence. Links form a forest over
// customer ids; only the cluster index may write through this repository.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new cluster link repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ParentOf returns the primary id the given customer points at, if any. A
// customer with no link is its own root.
func (r *Repository) ParentOf(ctx context.Context, customerID int64) (int64, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "clusterlink.Repository.ParentOf")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("primary_id")
	sb.From(clusterLinksTable)
	sb.Where(sb.Equal("secondary_id", customerID))

	query, args := sb.Build()

	var primaryID int64
	if err := database.Q(ctx, r.db).GetContext(ctx, &primaryID, query, args...); err != nil {
		if database.IsNoRows(err) {
			return 0, false, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to look up cluster parent")
		return 0, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to look up cluster link")
	}

	return primaryID, true, nil
}

// SecondariesOf returns the customer ids directly linked under primaryID,
// ascending.
func (r *Repository) SecondariesOf(ctx context.Context, primaryID int64) ([]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "clusterlink.Repository.SecondariesOf")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("secondary_id")
	sb.From(clusterLinksTable)
	sb.Where(sb.Equal("primary_id", primaryID))
	sb.OrderBy("secondary_id")

	query, args := sb.Build()

	var ids []int64
	if err := database.Q(ctx, r.db).SelectContext(ctx, &ids, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list cluster secondaries")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list cluster links")
	}

	return ids, nil
}

// Insert persists a primary -> secondary link. Inserting the same pair twice
// is a no-op. The conflict target is the pair constraint only; a collision on
// the secondary's one-parent constraint means a concurrent merge already
// linked it elsewhere and surfaces as ErrConflictingLink.
func (r *Repository) Insert(ctx context.Context, primaryID, secondaryID int64) error {
	ctx, span := tracing.StartSpan(ctx, "clusterlink.Repository.Insert")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(clusterLinksTable)
	ib.Cols("primary_id", "secondary_id", "created_at")
	ib.Values(primaryID, secondaryID, Now())
	ib.OnConflictDoNothing("primary_id", "secondary_id")

	query, args := ib.Build()

	if _, err := database.Q(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			r.logger.WithContext(ctx).WithFields(map[string]any{
				"primary_id":   primaryID,
				"secondary_id": secondaryID,
			}).Warn("Secondary already linked under another primary")
			return ErrConflictingLink
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"primary_id":   primaryID,
			"secondary_id": secondaryID,
		}).Error("Failed to insert cluster link")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert cluster link")
	}

	return nil
}

// Repoint moves every link under oldPrimary to newPrimary, so all members of
// an absorbed cluster resolve directly to the new overall root.
func (r *Repository) Repoint(ctx context.Context, oldPrimary, newPrimary int64) error {
	ctx, span := tracing.StartSpan(ctx, "clusterlink.Repository.Repoint")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(clusterLinksTable)
	ub.Set(ub.Assign("primary_id", newPrimary))
	ub.Where(ub.Equal("primary_id", oldPrimary))

	query, args := ub.Build()

	result, err := database.Q(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"old_primary": oldPrimary,
			"new_primary": newPrimary,
		}).Error("Failed to repoint cluster links")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to repoint cluster links")
	}

	if rows, _ := result.RowsAffected(); rows > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"old_primary": oldPrimary,
			"new_primary": newPrimary,
			"links_moved": rows,
		}).Debug("Repointed cluster links")
	}

	return nil
}
