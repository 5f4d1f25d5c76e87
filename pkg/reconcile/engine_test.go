package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/clusterlink"
	"github.com/Ramsey-B/fern/internal/repositories/contact"
	"github.com/Ramsey-B/fern/pkg/cluster"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeTx struct {
	database.Tx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) IsOpen() bool { return !f.committed && !f.rolledBack }

func (f *fakeTx) Commit(_ context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(_ context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	database.DB
	txs []*fakeTx
}

func (f *fakeDB) GetTx(ctx context.Context, _ *sql.TxOptions) (context.Context, database.Tx, error) {
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return ctx, tx, nil
}

// fakeContacts is an in-memory ContactStore enforcing the same one-owner-per-
// value rule as the real repository
type fakeContacts struct {
	nextCustomer int64
	nextContact  int64
	owner        map[string]models.Contact
	contacts     []models.Contact

	// raceWinner simulates a concurrent request winning the creation race
	// for a value: the first attach of that value is recorded against a
	// freshly created other customer and reported as a duplicate
	raceWinner map[string]bool
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{
		owner:      map[string]models.Contact{},
		raceWinner: map[string]bool{},
	}
}

func contactKey(contactType models.ContactType, value string) string {
	return fmt.Sprintf("%s|%s", contactType, value)
}

func (f *fakeContacts) FindOwner(_ context.Context, contactType models.ContactType, value string) (*models.Contact, error) {
	if c, ok := f.owner[contactKey(contactType, value)]; ok {
		found := c
		return &found, nil
	}
	return nil, nil
}

func (f *fakeContacts) CreateCustomer(_ context.Context) (int64, error) {
	f.nextCustomer++
	return f.nextCustomer, nil
}

func (f *fakeContacts) Attach(_ context.Context, customerID int64, contactType models.ContactType, value string) (*models.Contact, error) {
	key := contactKey(contactType, value)

	if f.raceWinner[key] {
		delete(f.raceWinner, key)
		f.nextCustomer++
		f.record(f.nextCustomer, contactType, value)
		return nil, contact.ErrDuplicateContact
	}

	if _, ok := f.owner[key]; ok {
		return nil, contact.ErrDuplicateContact
	}

	c := f.record(customerID, contactType, value)
	return &c, nil
}

func (f *fakeContacts) record(customerID int64, contactType models.ContactType, value string) models.Contact {
	f.nextContact++
	c := models.Contact{
		ID:         f.nextContact,
		CustomerID: customerID,
		Type:       contactType,
		Value:      value,
	}
	f.owner[contactKey(contactType, value)] = c
	f.contacts = append(f.contacts, c)
	return c
}

func (f *fakeContacts) ListByCustomers(_ context.Context, customerIDs []int64) ([]models.Contact, error) {
	members := map[int64]bool{}
	for _, id := range customerIDs {
		members[id] = true
	}
	var result []models.Contact
	for _, c := range f.contacts {
		if members[c.CustomerID] {
			result = append(result, c)
		}
	}
	return result, nil
}

type fakeLinks struct {
	parent map[int64]int64
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{parent: map[int64]int64{}}
}

func (f *fakeLinks) ParentOf(_ context.Context, customerID int64) (int64, bool, error) {
	p, ok := f.parent[customerID]
	return p, ok, nil
}

func (f *fakeLinks) SecondariesOf(_ context.Context, primaryID int64) ([]int64, error) {
	var ids []int64
	for s, p := range f.parent {
		if p == primaryID {
			ids = append(ids, s)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids, nil
}

func (f *fakeLinks) Insert(_ context.Context, primaryID, secondaryID int64) error {
	if _, ok := f.parent[secondaryID]; !ok {
		f.parent[secondaryID] = primaryID
	}
	return nil
}

func (f *fakeLinks) Repoint(_ context.Context, oldPrimary, newPrimary int64) error {
	for s, p := range f.parent {
		if p == oldPrimary {
			f.parent[s] = newPrimary
		}
	}
	return nil
}

type fakeEmitter struct {
	created []int64
	merged  [][2]int64 // primary, absorbed root
}

func (f *fakeEmitter) EmitIdentityCreated(_ context.Context, identity *models.UnifiedIdentity) error {
	f.created = append(f.created, identity.PrimaryID)
	return nil
}

func (f *fakeEmitter) EmitIdentityMerged(_ context.Context, identity *models.UnifiedIdentity, absorbedRoot int64) error {
	f.merged = append(f.merged, [2]int64{identity.PrimaryID, absorbedRoot})
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type engineFixture struct {
	engine   *Engine
	db       *fakeDB
	contacts *fakeContacts
	emitter  *fakeEmitter
}

func newEngineFixture() *engineFixture {
	logger := testLogger()
	db := &fakeDB{}
	contacts := newFakeContacts()
	emitter := &fakeEmitter{}
	idx := cluster.NewIndex(newFakeLinks(), logger)
	return &engineFixture{
		engine:   NewEngine(db, contacts, idx, emitter, nil, logger),
		db:       db,
		contacts: contacts,
		emitter:  emitter,
	}
}

func TestIdentify_NewEmailCreatesCustomer(t *testing.T) {
	f := newEngineFixture()

	identity, err := f.engine.Identify(context.Background(), models.IdentifyRequest{Email: "a@x.com"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), identity.PrimaryID)
	assert.Equal(t, []string{"a@x.com"}, identity.Emails)
	assert.Empty(t, identity.PhoneNumbers)
	assert.Empty(t, identity.SecondaryIDs)

	assert.Equal(t, []int64{1}, f.emitter.created)
	require.Len(t, f.db.txs, 1)
	assert.True(t, f.db.txs[0].committed)
}

func TestIdentify_NewPhoneCreatesSecondCustomer(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	_, err := f.engine.Identify(ctx, models.IdentifyRequest{Email: "a@x.com"})
	require.NoError(t, err)

	identity, err := f.engine.Identify(ctx, models.IdentifyRequest{PhoneNumber: "555"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), identity.PrimaryID)
	assert.Equal(t, []string{"555"}, identity.PhoneNumbers)
	assert.Empty(t, identity.SecondaryIDs)
}

func TestIdentify_BridgingPairMergesClusters(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	_, err := f.engine.Identify(ctx, models.IdentifyRequest{Email: "a@x.com"})
	require.NoError(t, err)
	_, err = f.engine.Identify(ctx, models.IdentifyRequest{PhoneNumber: "555"})
	require.NoError(t, err)

	identity, err := f.engine.Identify(ctx, models.IdentifyRequest{Email: "a@x.com", PhoneNumber: "555"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), identity.PrimaryID)
	assert.Equal(t, []string{"a@x.com"}, identity.Emails)
	assert.Equal(t, []string{"555"}, identity.PhoneNumbers)
	assert.Equal(t, []int64{2}, identity.SecondaryIDs)

	require.Len(t, f.emitter.merged, 1)
	assert.Equal(t, [2]int64{1, 2}, f.emitter.merged[0])
}

func TestIdentify_MergePrefersLowestIdEitherOrder(t *testing.T) {
	tests := []struct {
		name  string
		first models.IdentifyRequest
	}{
		{name: "phone owner first", first: models.IdentifyRequest{PhoneNumber: "555"}},
		{name: "email owner first", first: models.IdentifyRequest{Email: "a@x.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture()
			ctx := context.Background()

			_, err := f.engine.Identify(ctx, tt.first)
			require.NoError(t, err)
			second := models.IdentifyRequest{Email: "a@x.com"}
			if tt.first.Email != "" {
				second = models.IdentifyRequest{PhoneNumber: "555"}
			}
			_, err = f.engine.Identify(ctx, second)
			require.NoError(t, err)

			identity, err := f.engine.Identify(ctx, models.IdentifyRequest{Email: "a@x.com", PhoneNumber: "555"})
			require.NoError(t, err)

			assert.Equal(t, int64(1), identity.PrimaryID)
			assert.Equal(t, []int64{2}, identity.SecondaryIDs)
		})
	}
}

func TestIdentify_RepeatIsIdempotent(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	_, err := f.engine.Identify(ctx, models.IdentifyRequest{Email: "a@x.com"})
	require.NoError(t, err)
	_, err = f.engine.Identify(ctx, models.IdentifyRequest{PhoneNumber: "555"})
	require.NoError(t, err)

	req := models.IdentifyRequest{Email: "a@x.com", PhoneNumber: "555"}
	first, err := f.engine.Identify(ctx, req)
	require.NoError(t, err)

	customersBefore := f.contacts.nextCustomer
	contactsBefore := len(f.contacts.contacts)

	second, err := f.engine.Identify(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, customersBefore, f.contacts.nextCustomer, "repeat must not create customers")
	assert.Equal(t, contactsBefore, len(f.contacts.contacts), "repeat must not create contacts")
	assert.Len(t, f.emitter.merged, 1, "repeat must not emit another merge")
}

func TestIdentify_NewFactAttachesToPrimary(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	_, err := f.engine.Identify(ctx, models.IdentifyRequest{Email: "a@x.com"})
	require.NoError(t, err)

	identity, err := f.engine.Identify(ctx, models.IdentifyRequest{Email: "a@x.com", PhoneNumber: "555"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), identity.PrimaryID)
	assert.Equal(t, []string{"555"}, identity.PhoneNumbers)
	assert.Empty(t, identity.SecondaryIDs)

	owner, err := f.contacts.FindOwner(ctx, models.ContactTypePhone, "555")
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, int64(1), owner.CustomerID)
}

func TestIdentify_NormalizesBeforeMatching(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	_, err := f.engine.Identify(ctx, models.IdentifyRequest{Email: "a@x.com", PhoneNumber: "5551234"})
	require.NoError(t, err)

	identity, err := f.engine.Identify(ctx, models.IdentifyRequest{Email: "  A@X.com ", PhoneNumber: "(555) 123-4"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), identity.PrimaryID)
	assert.Equal(t, int64(1), f.contacts.nextCustomer, "normalized values must match existing contacts")
}

func TestIdentify_RequiresAtLeastOneContact(t *testing.T) {
	f := newEngineFixture()

	_, err := f.engine.Identify(context.Background(), models.IdentifyRequest{Email: "   ", PhoneNumber: "()- "})
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err))
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	assert.Empty(t, f.db.txs, "no transaction should be opened for an invalid request")
}

func TestIdentify_RetriesOnceAfterLostCreationRace(t *testing.T) {
	f := newEngineFixture()
	f.contacts.raceWinner[contactKey(models.ContactTypeEmail, "a@x.com")] = true

	identity, err := f.engine.Identify(context.Background(), models.IdentifyRequest{Email: "a@x.com"})
	require.NoError(t, err)

	// the concurrent winner's customer owns the contact now
	assert.Equal(t, []string{"a@x.com"}, identity.Emails)
	owner, err := f.contacts.FindOwner(context.Background(), models.ContactTypeEmail, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, owner.CustomerID, identity.PrimaryID)

	require.Len(t, f.db.txs, 2, "exactly one retry")
	assert.True(t, f.db.txs[0].rolledBack)
	assert.True(t, f.db.txs[1].committed)
}

// racingLinks simulates a concurrent merge committing first: the first insert
// for the contested secondary fails with a conflict after the winner's link
// lands in the forest
type racingLinks struct {
	*fakeLinks
	winnerPrimary  int64
	takenSecondary int64
	fired          bool
}

func (r *racingLinks) Insert(ctx context.Context, primaryID, secondaryID int64) error {
	if !r.fired && secondaryID == r.takenSecondary {
		r.fired = true
		r.parent[r.takenSecondary] = r.winnerPrimary
		return clusterlink.ErrConflictingLink
	}
	return r.fakeLinks.Insert(ctx, primaryID, secondaryID)
}

func TestIdentify_RetriesOnceAfterLostLinkRace(t *testing.T) {
	logger := testLogger()
	db := &fakeDB{}
	contacts := newFakeContacts()
	contacts.nextCustomer = 3
	contacts.record(1, models.ContactTypeEmail, "a@x.com")
	contacts.record(3, models.ContactTypePhone, "555")

	// customer 3 gets linked under customer 2 by a concurrent request while
	// this one tries to link it under customer 1
	links := &racingLinks{fakeLinks: newFakeLinks(), winnerPrimary: 2, takenSecondary: 3}
	idx := cluster.NewIndex(links, logger)
	emitter := &fakeEmitter{}
	engine := NewEngine(db, contacts, idx, emitter, nil, logger)

	identity, err := engine.Identify(context.Background(), models.IdentifyRequest{Email: "a@x.com", PhoneNumber: "555"})
	require.NoError(t, err)

	// the retry must fold the winner's cluster in rather than drop the merge
	assert.Equal(t, int64(1), identity.PrimaryID)
	assert.Equal(t, []int64{2, 3}, identity.SecondaryIDs)
	assert.Equal(t, []string{"a@x.com"}, identity.Emails)
	assert.Equal(t, []string{"555"}, identity.PhoneNumbers)

	require.Len(t, db.txs, 2, "exactly one retry")
	assert.True(t, db.txs[0].rolledBack)
	assert.True(t, db.txs[1].committed)

	require.Len(t, emitter.merged, 1)
	assert.Equal(t, [2]int64{1, 2}, emitter.merged[0])

	for _, id := range []int64{1, 2, 3} {
		root, err := idx.RootOf(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), root)
	}
}

func TestIdentify_EmitterFailureDoesNotFailRequest(t *testing.T) {
	logger := testLogger()
	db := &fakeDB{}
	contacts := newFakeContacts()
	idx := cluster.NewIndex(newFakeLinks(), logger)
	engine := NewEngine(db, contacts, idx, &failingEmitter{}, nil, logger)

	identity, err := engine.Identify(context.Background(), models.IdentifyRequest{Email: "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), identity.PrimaryID)
}

type failingEmitter struct{}

func (f *failingEmitter) EmitIdentityCreated(_ context.Context, _ *models.UnifiedIdentity) error {
	return fmt.Errorf("broker unavailable")
}

func (f *failingEmitter) EmitIdentityMerged(_ context.Context, _ *models.UnifiedIdentity, _ int64) error {
	return fmt.Errorf("broker unavailable")
}
