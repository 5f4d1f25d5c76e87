package purchases

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type fakeContacts struct {
	owners    map[string]models.Contact // type|value -> contact
	customers map[int64]bool
}

func (f *fakeContacts) FindOwner(_ context.Context, contactType models.ContactType, value string) (*models.Contact, error) {
	if c, ok := f.owners[string(contactType)+"|"+value]; ok {
		found := c
		return &found, nil
	}
	return nil, nil
}

func (f *fakeContacts) CustomerExists(_ context.Context, customerID int64) (bool, error) {
	return f.customers[customerID], nil
}

type fakeClusters struct {
	root    map[int64]int64
	members map[int64][]int64
}

func (f *fakeClusters) RootOf(_ context.Context, customerID int64) (int64, error) {
	if r, ok := f.root[customerID]; ok {
		return r, nil
	}
	return customerID, nil
}

func (f *fakeClusters) MembersOf(_ context.Context, primaryID int64) ([]int64, error) {
	if m, ok := f.members[primaryID]; ok {
		return m, nil
	}
	return []int64{primaryID}, nil
}

type fakePurchases struct {
	nextID    int64
	purchases []models.Purchase
}

func (f *fakePurchases) Create(_ context.Context, customerID int64, item string, amount float64) (*models.Purchase, error) {
	f.nextID++
	p := models.Purchase{
		ID:          f.nextID,
		CustomerID:  customerID,
		Item:        item,
		Amount:      amount,
		PurchasedAt: time.Now().UTC(),
	}
	f.purchases = append(f.purchases, p)
	return &p, nil
}

func (f *fakePurchases) ListByCustomers(_ context.Context, customerIDs []int64) ([]models.Purchase, error) {
	members := map[int64]bool{}
	for _, id := range customerIDs {
		members[id] = true
	}
	var result []models.Purchase
	for _, p := range f.purchases {
		if members[p.CustomerID] {
			result = append(result, p)
		}
	}
	return result, nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestRecordPurchase(t *testing.T) {
	store := &fakePurchases{}
	svc := NewService(
		&fakeContacts{customers: map[int64]bool{2: true}},
		&fakeClusters{},
		store,
		testLogger(),
	)

	purchase, err := svc.RecordPurchase(context.Background(), models.RecordPurchaseRequest{
		CustomerID: 2,
		Item:       "book",
		Amount:     12.50,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), purchase.CustomerID)
	assert.Equal(t, "book", purchase.Item)
	require.Len(t, store.purchases, 1)
}

func TestRecordPurchase_UnknownCustomer(t *testing.T) {
	svc := NewService(
		&fakeContacts{customers: map[int64]bool{}},
		&fakeClusters{},
		&fakePurchases{},
		testLogger(),
	)

	_, err := svc.RecordPurchase(context.Background(), models.RecordPurchaseRequest{
		CustomerID: 99,
		Item:       "book",
		Amount:     1,
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestPurchasesFor_SpansWholeCluster(t *testing.T) {
	// customer 2 bought before being merged under primary 1; a lookup via
	// either contact must still surface that purchase
	contacts := &fakeContacts{
		owners: map[string]models.Contact{
			"email|a@x.com": {ID: 1, CustomerID: 1, Type: models.ContactTypeEmail, Value: "a@x.com"},
			"phone|555":     {ID: 2, CustomerID: 2, Type: models.ContactTypePhone, Value: "555"},
		},
		customers: map[int64]bool{1: true, 2: true},
	}
	clusters := &fakeClusters{
		root:    map[int64]int64{1: 1, 2: 1},
		members: map[int64][]int64{1: {1, 2}},
	}
	store := &fakePurchases{}
	svc := NewService(contacts, clusters, store, testLogger())
	ctx := context.Background()

	_, err := svc.RecordPurchase(ctx, models.RecordPurchaseRequest{CustomerID: 2, Item: "pre-merge", Amount: 5})
	require.NoError(t, err)

	for _, lookup := range []struct {
		contactType models.ContactType
		value       string
	}{
		{models.ContactTypePhone, "555"},
		{models.ContactTypeEmail, "a@x.com"},
	} {
		purchases, err := svc.PurchasesFor(ctx, lookup.contactType, lookup.value)
		require.NoError(t, err)
		require.Len(t, purchases, 1, "lookup via %s", lookup.contactType)
		assert.Equal(t, "pre-merge", purchases[0].Item)
	}
}

func TestPurchasesFor_UnknownContactIsEmpty(t *testing.T) {
	svc := NewService(
		&fakeContacts{owners: map[string]models.Contact{}},
		&fakeClusters{},
		&fakePurchases{},
		testLogger(),
	)

	purchases, err := svc.PurchasesFor(context.Background(), models.ContactTypeEmail, "nobody@x.com")
	require.NoError(t, err)
	assert.NotNil(t, purchases)
	assert.Empty(t, purchases)
}

func TestPurchasesFor_NormalizesLookupValue(t *testing.T) {
	contacts := &fakeContacts{
		owners: map[string]models.Contact{
			"phone|5551234": {ID: 1, CustomerID: 1, Type: models.ContactTypePhone, Value: "5551234"},
		},
	}
	store := &fakePurchases{}
	svc := NewService(contacts, &fakeClusters{}, store, testLogger())
	ctx := context.Background()

	_, err := store.Create(ctx, 1, "widget", 3)
	require.NoError(t, err)

	purchases, err := svc.PurchasesFor(ctx, models.ContactTypePhone, "(555) 123-4")
	require.NoError(t, err)
	require.Len(t, purchases, 1)
}

func TestPurchasesFor_RejectsBadInput(t *testing.T) {
	svc := NewService(&fakeContacts{}, &fakeClusters{}, &fakePurchases{}, testLogger())

	_, err := svc.PurchasesFor(context.Background(), models.ContactType("fax"), "555")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	_, err = svc.PurchasesFor(context.Background(), models.ContactTypeEmail, "   ")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}
