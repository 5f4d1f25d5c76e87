// Package reconcile implements the identity reconciliation engine: given a
// contact pair it determines the affected customers, merges their clusters,
// assigns the canonical primary and returns the unified identity view.
package reconcile

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/clusterlink"
	"github.com/Ramsey-B/fern/internal/repositories/contact"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ContactStore is the contact persistence surface the engine needs
type ContactStore interface {
	FindOwner(ctx context.Context, contactType models.ContactType, value string) (*models.Contact, error)
	CreateCustomer(ctx context.Context) (int64, error)
	Attach(ctx context.Context, customerID int64, contactType models.ContactType, value string) (*models.Contact, error)
	ListByCustomers(ctx context.Context, customerIDs []int64) ([]models.Contact, error)
}

// ClusterIndex resolves and merges identity clusters
type ClusterIndex interface {
	RootOf(ctx context.Context, customerID int64) (int64, error)
	Union(ctx context.Context, idA, idB int64) (int64, error)
	MembersOf(ctx context.Context, primaryID int64) ([]int64, error)
}

// EventEmitter publishes identity lifecycle events after a successful commit
type EventEmitter interface {
	EmitIdentityCreated(ctx context.Context, identity *models.UnifiedIdentity) error
	EmitIdentityMerged(ctx context.Context, identity *models.UnifiedIdentity, absorbedRoot int64) error
}

// ClusterMirror maintains a read-side mirror of the cluster forest
type ClusterMirror interface {
	MirrorCluster(ctx context.Context, primaryID int64, members []int64) error
}

// Engine reconciles contact pairs into persistent customer identities
type Engine struct {
	db       database.DB
	contacts ContactStore
	clusters ClusterIndex
	emitter  EventEmitter  // optional
	mirror   ClusterMirror // optional
	logger   ectologger.Logger
}

// NewEngine creates a new reconciliation engine. emitter and mirror may be
// nil when eventing or the graph mirror are disabled.
func NewEngine(db database.DB, contacts ContactStore, clusters ClusterIndex, emitter EventEmitter, mirror ClusterMirror, logger ectologger.Logger) *Engine {
	return &Engine{
		db:       db,
		contacts: contacts,
		clusters: clusters,
		emitter:  emitter,
		mirror:   mirror,
		logger:   logger,
	}
}

// outcome describes what a reconciliation pass did, for post-commit effects
type outcome struct {
	created      bool
	merged       bool
	absorbedRoot int64
	members      []int64
}

// Identify resolves a contact pair to its unified identity, creating a new
// customer when nothing matches and merging clusters when the pair bridges
// two existing customers. The whole match -> union -> attach -> assemble
// sequence runs inside a single transaction.
//
// Two concurrent calls can race to create the same contact value, or to link
// the same customer under different primaries; the storage uniqueness
// constraints serialize them and the loser re-reads and retries exactly once.
func (e *Engine) Identify(ctx context.Context, req models.IdentifyRequest) (*models.UnifiedIdentity, error) {
	ctx, span := tracing.StartSpan(ctx, "reconcile.Engine.Identify")
	defer span.End()

	email := normalizers.NormalizeEmail(req.Email)
	phone := normalizers.NormalizePhone(req.PhoneNumber)

	if email == "" && phone == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "provide at least one of email or phoneNumber")
	}

	identity, result, err := e.reconcile(ctx, email, phone)
	if isWriteRace(err) {
		e.logger.WithContext(ctx).Warn("Lost concurrent write race, retrying reconciliation")
		identity, result, err = e.reconcile(ctx, email, phone)
	}
	if err != nil {
		return nil, err
	}

	e.afterCommit(ctx, identity, result)

	return identity, nil
}

// reconcile runs one full reconciliation pass in its own transaction
func (e *Engine) reconcile(ctx context.Context, email, phone string) (*models.UnifiedIdentity, outcome, error) {
	txCtx, tx, err := e.db.GetTx(ctx, nil)
	if err != nil {
		return nil, outcome{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin reconciliation")
	}
	// rollback with the outer context so it is a no-op only after commit
	defer func() { _ = tx.Rollback(ctx) }()

	var emailOwner, phoneOwner *models.Contact
	if email != "" {
		if emailOwner, err = e.contacts.FindOwner(txCtx, models.ContactTypeEmail, email); err != nil {
			return nil, outcome{}, err
		}
	}
	if phone != "" {
		if phoneOwner, err = e.contacts.FindOwner(txCtx, models.ContactTypePhone, phone); err != nil {
			return nil, outcome{}, err
		}
	}

	owners := distinctOwners(emailOwner, phoneOwner)

	if len(owners) == 0 {
		identity, err := e.createIdentity(txCtx, email, phone)
		if err != nil {
			return nil, outcome{}, err
		}
		if err := tx.Commit(txCtx); err != nil {
			return nil, outcome{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit reconciliation")
		}
		return identity, outcome{created: true, members: []int64{identity.PrimaryID}}, nil
	}

	primary, result, err := e.mergeOwners(txCtx, owners)
	if err != nil {
		return nil, outcome{}, err
	}

	// a new fact arriving on a known identity is recorded against the
	// cluster primary so ownership and membership stay consistent
	if email != "" && emailOwner == nil {
		if _, err := e.contacts.Attach(txCtx, primary, models.ContactTypeEmail, email); err != nil {
			return nil, outcome{}, err
		}
	}
	if phone != "" && phoneOwner == nil {
		if _, err := e.contacts.Attach(txCtx, primary, models.ContactTypePhone, phone); err != nil {
			return nil, outcome{}, err
		}
	}

	members, err := e.clusters.MembersOf(txCtx, primary)
	if err != nil {
		return nil, outcome{}, err
	}
	contacts, err := e.contacts.ListByCustomers(txCtx, members)
	if err != nil {
		return nil, outcome{}, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return nil, outcome{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit reconciliation")
	}

	result.members = members
	return assembleIdentity(primary, members, contacts), result, nil
}

// createIdentity handles the no-match case: a brand new customer owning
// whichever facts were given
func (e *Engine) createIdentity(ctx context.Context, email, phone string) (*models.UnifiedIdentity, error) {
	id, err := e.contacts.CreateCustomer(ctx)
	if err != nil {
		return nil, err
	}

	identity := &models.UnifiedIdentity{
		PrimaryID:    id,
		Emails:       []string{},
		PhoneNumbers: []string{},
		SecondaryIDs: []int64{},
	}

	if email != "" {
		if _, err := e.contacts.Attach(ctx, id, models.ContactTypeEmail, email); err != nil {
			return nil, err
		}
		identity.Emails = append(identity.Emails, email)
	}
	if phone != "" {
		if _, err := e.contacts.Attach(ctx, id, models.ContactTypePhone, phone); err != nil {
			return nil, err
		}
		identity.PhoneNumbers = append(identity.PhoneNumbers, phone)
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{"customer_id": id}).Info("Created customer identity")
	return identity, nil
}

// mergeOwners collapses the matched owners into a single cluster root
func (e *Engine) mergeOwners(ctx context.Context, owners []int64) (int64, outcome, error) {
	if len(owners) == 1 {
		primary, err := e.clusters.RootOf(ctx, owners[0])
		return primary, outcome{}, err
	}

	ra, err := e.clusters.RootOf(ctx, owners[0])
	if err != nil {
		return 0, outcome{}, err
	}
	rb, err := e.clusters.RootOf(ctx, owners[1])
	if err != nil {
		return 0, outcome{}, err
	}
	if ra == rb {
		return ra, outcome{}, nil
	}

	primary, err := e.clusters.Union(ctx, ra, rb)
	if err != nil {
		return 0, outcome{}, err
	}

	absorbed := ra
	if absorbed == primary {
		absorbed = rb
	}
	return primary, outcome{merged: true, absorbedRoot: absorbed}, nil
}

// afterCommit runs post-commit side effects. The identity result is already
// durable, so failures here are logged, never surfaced.
func (e *Engine) afterCommit(ctx context.Context, identity *models.UnifiedIdentity, result outcome) {
	if e.emitter != nil {
		var err error
		switch {
		case result.created:
			err = e.emitter.EmitIdentityCreated(ctx, identity)
		case result.merged:
			err = e.emitter.EmitIdentityMerged(ctx, identity, result.absorbedRoot)
		}
		if err != nil {
			e.logger.WithContext(ctx).WithError(err).Warn("Failed to emit identity event")
		}
	}

	if e.mirror != nil && (result.created || result.merged) {
		if err := e.mirror.MirrorCluster(ctx, identity.PrimaryID, result.members); err != nil {
			e.logger.WithContext(ctx).WithError(err).Warn("Failed to mirror identity cluster")
		}
	}
}

// isWriteRace reports whether the pass lost to a concurrent writer and the
// retry would see the committed state
func isWriteRace(err error) bool {
	return errors.Is(err, contact.ErrDuplicateContact) || errors.Is(err, clusterlink.ErrConflictingLink)
}

// distinctOwners collects the distinct customer ids among matched contacts
func distinctOwners(matches ...*models.Contact) []int64 {
	var owners []int64
	seen := map[int64]bool{}
	for _, m := range matches {
		if m == nil || seen[m.CustomerID] {
			continue
		}
		seen[m.CustomerID] = true
		owners = append(owners, m.CustomerID)
	}
	return owners
}

// assembleIdentity builds the unified view: distinct contact values in the
// order first recorded, secondary ids ascending
func assembleIdentity(primary int64, members []int64, contacts []models.Contact) *models.UnifiedIdentity {
	identity := &models.UnifiedIdentity{
		PrimaryID:    primary,
		Emails:       []string{},
		PhoneNumbers: []string{},
		SecondaryIDs: []int64{},
	}

	seenValues := map[models.ContactType]map[string]bool{
		models.ContactTypeEmail: {},
		models.ContactTypePhone: {},
	}
	for _, c := range contacts {
		values, ok := seenValues[c.Type]
		if !ok || values[c.Value] {
			continue
		}
		values[c.Value] = true
		switch c.Type {
		case models.ContactTypeEmail:
			identity.Emails = append(identity.Emails, c.Value)
		case models.ContactTypePhone:
			identity.PhoneNumbers = append(identity.PhoneNumbers, c.Value)
		}
	}

	for _, id := range members {
		if id != primary {
			identity.SecondaryIDs = append(identity.SecondaryIDs, id)
		}
	}

	return identity
}
