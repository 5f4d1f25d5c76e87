// Package cluster maintains the persisted union-find forest over customer
// ids. Every operation re-derives membership from storage: the process may
// restart or serve overlapping requests concurrently, so no in-memory state
// is kept between calls.
package cluster

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// LinkStore is the persistence surface the index needs. Only the index may
// write cluster links.
type LinkStore interface {
	ParentOf(ctx context.Context, customerID int64) (int64, bool, error)
	SecondariesOf(ctx context.Context, primaryID int64) ([]int64, error)
	Insert(ctx context.Context, primaryID, secondaryID int64) error
	Repoint(ctx context.Context, oldPrimary, newPrimary int64) error
}

// Index resolves customer ids to their cluster root and merges clusters
type Index struct {
	links  LinkStore
	logger ectologger.Logger
}

// NewIndex creates a new cluster index
func NewIndex(links LinkStore, logger ectologger.Logger) *Index {
	return &Index{
		links:  links,
		logger: logger,
	}
}

// RootOf resolves a customer id to the primary (minimum-id) representative
// of its cluster. A customer with no links is its own root. Links are
// re-pointed at union time so chains are normally one hop deep, but the walk
// follows arbitrary depth so reads stay correct over links written before a
// later re-pointing union.
func (i *Index) RootOf(ctx context.Context, customerID int64) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Index.RootOf")
	defer span.End()

	current := customerID
	seen := map[int64]bool{current: true}

	for {
		parent, ok, err := i.links.ParentOf(ctx, current)
		if err != nil {
			return 0, err
		}
		if !ok {
			return current, nil
		}
		if seen[parent] {
			// a cycle would mean the forest invariant was violated by a
			// write outside the index
			i.logger.WithContext(ctx).WithFields(map[string]any{"customer_id": customerID}).Error("Cluster link cycle detected")
			return 0, httperror.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("cluster link cycle at customer %d", customerID))
		}
		seen[parent] = true
		current = parent
	}
}

// Union merges the clusters containing idA and idB and returns the resulting
// root. The lower root becomes the primary; every link under the absorbed
// root is re-pointed at the new primary in the same call, so all members
// resolve to the true minimum id of the merged cluster. Calling Union again
// with the same pair, in either order, is a no-op.
func (i *Index) Union(ctx context.Context, idA, idB int64) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Index.Union")
	defer span.End()

	ra, err := i.RootOf(ctx, idA)
	if err != nil {
		return 0, err
	}
	rb, err := i.RootOf(ctx, idB)
	if err != nil {
		return 0, err
	}

	if ra == rb {
		return ra, nil
	}

	// explicit lowest-id-wins comparator; ids are monotone and never reused
	primary, secondary := ra, rb
	if rb < ra {
		primary, secondary = rb, ra
	}

	if err := i.links.Insert(ctx, primary, secondary); err != nil {
		return 0, err
	}
	if err := i.links.Repoint(ctx, secondary, primary); err != nil {
		return 0, err
	}

	i.logger.WithContext(ctx).WithFields(map[string]any{
		"primary_id":   primary,
		"secondary_id": secondary,
	}).Info("Merged identity clusters")

	return primary, nil
}

// MembersOf returns all customer ids whose root is primaryID, including
// primaryID itself, ascending.
func (i *Index) MembersOf(ctx context.Context, primaryID int64) ([]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "cluster.Index.MembersOf")
	defer span.End()

	members := []int64{primaryID}
	queue := []int64{primaryID}
	seen := map[int64]bool{primaryID: true}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		secondaries, err := i.links.SecondariesOf(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, id := range secondaries {
			if seen[id] {
				continue
			}
			seen[id] = true
			members = append(members, id)
			queue = append(queue, id)
		}
	}

	sort.Slice(members, func(a, b int) bool { return members[a] < members[b] })
	return members, nil
}
