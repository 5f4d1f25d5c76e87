package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ClusterService mirrors identity clusters as Customer nodes linked to their
// primary by SAME_AS edges. The mirror is rebuilt per cluster on every write,
// so it converges even after missed updates.
type ClusterService struct {
	client *Client
	logger ectologger.Logger
}

// NewClusterService creates a new cluster mirror service
func NewClusterService(client *Client, logger ectologger.Logger) *ClusterService {
	return &ClusterService{
		client: client,
		logger: logger,
	}
}

// MirrorCluster upserts the Customer nodes for a cluster and re-points every
// member's SAME_AS edge at the current primary
func (s *ClusterService) MirrorCluster(ctx context.Context, primaryID int64, members []int64) error {
	ctx, span := tracing.StartSpan(ctx, "graph.ClusterService.MirrorCluster")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"primary_id":   primaryID,
		"member_count": len(members),
	})

	cypher := `
		MERGE (p:Customer {id: $primary_id})
		SET p.is_primary = true
		WITH p
		UNWIND $member_ids AS member_id
		MERGE (m:Customer {id: member_id})
		SET m.is_primary = false
		WITH p, m
		OPTIONAL MATCH (m)-[old:SAME_AS]->()
		DELETE old
		MERGE (m)-[:SAME_AS]->(p)
	`

	secondaryIDs := make([]int64, 0, len(members))
	for _, id := range members {
		if id != primaryID {
			secondaryIDs = append(secondaryIDs, id)
		}
	}

	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{
			"primary_id": primaryID,
			"member_ids": secondaryIDs,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		log.WithError(err).Error("Failed to mirror identity cluster in graph")
		return fmt.Errorf("failed to mirror identity cluster in graph: %w", err)
	}

	log.Debug("Mirrored identity cluster in graph")
	return nil
}
