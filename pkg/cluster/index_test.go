package cluster

import (
	"context"
	"sort"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLinks is an in-memory LinkStore keyed by secondary id
type fakeLinks struct {
	parent map[int64]int64
}

func newFakeLinks() *fakeLinks {
	return &fakeLinks{parent: make(map[int64]int64)}
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

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestRootOf_UnlinkedCustomerIsItsOwnRoot(t *testing.T) {
	idx := NewIndex(newFakeLinks(), testLogger())

	root, err := idx.RootOf(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), root)
}

func TestUnion_LowestIdWins(t *testing.T) {
	tests := []struct {
		name string
		a, b int64
	}{
		{name: "ascending order", a: 1, b: 2},
		{name: "descending order", a: 2, b: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := NewIndex(newFakeLinks(), testLogger())

			root, err := idx.Union(context.Background(), tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, int64(1), root)

			for _, id := range []int64{1, 2} {
				r, err := idx.RootOf(context.Background(), id)
				require.NoError(t, err)
				assert.Equal(t, int64(1), r)
			}
		})
	}
}

func TestUnion_IsIdempotent(t *testing.T) {
	links := newFakeLinks()
	idx := NewIndex(links, testLogger())
	ctx := context.Background()

	_, err := idx.Union(ctx, 1, 2)
	require.NoError(t, err)

	before := len(links.parent)

	root, err := idx.Union(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), root)
	assert.Equal(t, before, len(links.parent), "repeated union must not add links")
}

func TestUnion_RepointsAbsorbedCluster(t *testing.T) {
	links := newFakeLinks()
	idx := NewIndex(links, testLogger())
	ctx := context.Background()

	// cluster {2,3} rooted at 2, then merged into cluster {1}
	_, err := idx.Union(ctx, 2, 3)
	require.NoError(t, err)

	root, err := idx.Union(ctx, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), root)

	// every member of the absorbed cluster must resolve to the new root
	for _, id := range []int64{1, 2, 3} {
		r, err := idx.RootOf(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), r, "customer %d", id)
	}

	// and the absorbed root's old link must point directly at the new root
	assert.Equal(t, int64(1), links.parent[3])
	assert.Equal(t, int64(1), links.parent[2])
}

func TestUnion_ThreeWayChain(t *testing.T) {
	idx := NewIndex(newFakeLinks(), testLogger())
	ctx := context.Background()

	_, err := idx.Union(ctx, 4, 5)
	require.NoError(t, err)
	_, err = idx.Union(ctx, 2, 3)
	require.NoError(t, err)
	_, err = idx.Union(ctx, 5, 2)
	require.NoError(t, err)

	for _, id := range []int64{2, 3, 4, 5} {
		r, err := idx.RootOf(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(2), r, "customer %d", id)
	}

	members, err := idx.MembersOf(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4, 5}, members)
}

func TestMembersOf_SingletonCluster(t *testing.T) {
	idx := NewIndex(newFakeLinks(), testLogger())

	members, err := idx.MembersOf(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, members)
}

func TestMembersOf_FollowsLegacyChains(t *testing.T) {
	// links written before re-pointing unions may be more than one hop deep;
	// membership must still be complete
	links := newFakeLinks()
	links.parent[2] = 1
	links.parent[3] = 2
	idx := NewIndex(links, testLogger())

	members, err := idx.MembersOf(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, members)

	root, err := idx.RootOf(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), root)
}

func TestRootOf_DetectsCycles(t *testing.T) {
	links := newFakeLinks()
	links.parent[1] = 2
	links.parent[2] = 1
	idx := NewIndex(links, testLogger())

	_, err := idx.RootOf(context.Background(), 1)
	assert.Error(t, err)
}
