// Package purchases answers purchase history questions at identity
// granularity rather than customer-row granularity.
package purchases

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ContactStore is the contact lookup surface the service needs
type ContactStore interface {
	FindOwner(ctx context.Context, contactType models.ContactType, value string) (*models.Contact, error)
	CustomerExists(ctx context.Context, customerID int64) (bool, error)
}

// ClusterIndex resolves a customer to its full identity cluster
type ClusterIndex interface {
	RootOf(ctx context.Context, customerID int64) (int64, error)
	MembersOf(ctx context.Context, primaryID int64) ([]int64, error)
}

// PurchaseStore is the purchase persistence surface the service needs
type PurchaseStore interface {
	Create(ctx context.Context, customerID int64, item string, amount float64) (*models.Purchase, error)
	ListByCustomers(ctx context.Context, customerIDs []int64) ([]models.Purchase, error)
}

// Service records purchases and aggregates them across identity clusters
type Service struct {
	contacts  ContactStore
	clusters  ClusterIndex
	purchases PurchaseStore
	logger    ectologger.Logger
}

// NewService creates a new purchases service
func NewService(contacts ContactStore, clusters ClusterIndex, purchases PurchaseStore, logger ectologger.Logger) *Service {
	return &Service{
		contacts:  contacts,
		clusters:  clusters,
		purchases: purchases,
		logger:    logger,
	}
}

// RecordPurchase records a purchase against an already-resolved customer id.
// The purchase keeps that customer id forever; identity-wide views are
// assembled at read time, so later merges need no purchase rewrites.
func (s *Service) RecordPurchase(ctx context.Context, req models.RecordPurchaseRequest) (*models.Purchase, error) {
	ctx, span := tracing.StartSpan(ctx, "purchases.Service.RecordPurchase")
	defer span.End()

	exists, err := s.contacts.CustomerExists(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "customer not found")
	}

	purchase, err := s.purchases.Create(ctx, req.CustomerID, req.Item, req.Amount)
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"customer_id": req.CustomerID,
		"purchase_id": purchase.ID,
	}).Info("Recorded purchase")

	return purchase, nil
}

// PurchasesFor returns every purchase recorded by any customer in the
// identity cluster owning the given contact. An unknown contact yields an
// empty history, not an error.
func (s *Service) PurchasesFor(ctx context.Context, contactType models.ContactType, value string) ([]models.Purchase, error) {
	ctx, span := tracing.StartSpan(ctx, "purchases.Service.PurchasesFor")
	defer span.End()

	if !contactType.Valid() {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "type must be email or phone")
	}

	normalized := normalizeValue(contactType, value)
	if normalized == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "value is required")
	}

	owner, err := s.contacts.FindOwner(ctx, contactType, normalized)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return []models.Purchase{}, nil
	}

	root, err := s.clusters.RootOf(ctx, owner.CustomerID)
	if err != nil {
		return nil, err
	}
	members, err := s.clusters.MembersOf(ctx, root)
	if err != nil {
		return nil, err
	}

	purchases, err := s.purchases.ListByCustomers(ctx, members)
	if err != nil {
		return nil, err
	}
	if purchases == nil {
		purchases = []models.Purchase{}
	}
	return purchases, nil
}

func normalizeValue(contactType models.ContactType, value string) string {
	if contactType == models.ContactTypePhone {
		return normalizers.NormalizePhone(value)
	}
	return normalizers.NormalizeEmail(value)
}
