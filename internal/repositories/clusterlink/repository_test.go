package clusterlink

import (
	"context"
	"database/sql"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
)

// queryCaptureDB records the statements a repository issues without touching a
// real database
type queryCaptureDB struct {
	database.DB
	queries []string
	execErr error
}

func (c *queryCaptureDB) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	c.queries = append(c.queries, query)
	if c.execErr != nil {
		return nil, c.execErr
	}
	return noRowsResult{}, nil
}

type noRowsResult struct{}

func (noRowsResult) LastInsertId() (int64, error) { return 0, nil }
func (noRowsResult) RowsAffected() (int64, error) { return 0, nil }

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestInsert_ConflictTargetIsThePairOnly(t *testing.T) {
	db := &queryCaptureDB{}
	repo := NewRepository(db, testLogger())

	err := repo.Insert(context.Background(), 1, 2)
	require.NoError(t, err)

	// only a duplicate pair may be skipped; a taken secondary must raise
	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0], "ON CONFLICT (primary_id, secondary_id) DO NOTHING")
}

func TestInsert_TakenSecondarySurfacesAsConflict(t *testing.T) {
	db := &queryCaptureDB{execErr: &pq.Error{Code: "23505"}}
	repo := NewRepository(db, testLogger())

	err := repo.Insert(context.Background(), 2, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflictingLink)
}
