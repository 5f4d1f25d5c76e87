package clusterlink

import (
	"database/sql"
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

const clusterLinksTable = "cluster_links"

// ClusterLinkRow represents the database row for a cluster link
type ClusterLinkRow struct {
	ID          sql.NullInt64 `db:"id"`
	PrimaryID   sql.NullInt64 `db:"primary_id"`
	SecondaryID sql.NullInt64 `db:"secondary_id"`
	CreatedAt   sql.NullTime  `db:"created_at"`
}

var clusterLinkStruct = database.NewStruct(new(ClusterLinkRow))

// ToClusterLink converts a database row to a domain model
func ToClusterLink(row *ClusterLinkRow) *models.ClusterLink {
	return &models.ClusterLink{
		ID:          row.ID.Int64,
		PrimaryID:   row.PrimaryID.Int64,
		SecondaryID: row.SecondaryID.Int64,
		CreatedAt:   row.CreatedAt.Time,
	}
}

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}
