package metrics

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestIncrementsUpdateCollectors(t *testing.T) {
	reg, err := New(openTestDB(t))
	require.NoError(t, err)

	reg.IncQuotesIssued()
	reg.IncQuotesIssued()
	reg.IncSwapsAccepted()
	reg.IncSwapsFailed("mismatched_lock")
	reg.SetActiveSwaps(3)

	require.Equal(t, float64(2), testutil.ToFloat64(reg.QuotesIssued))
	require.Equal(t, float64(1), testutil.ToFloat64(reg.SwapsAccepted))
	require.Equal(t, float64(3), testutil.ToFloat64(reg.ActiveSwaps))
	require.Equal(t, float64(1), testutil.ToFloat64(reg.SwapsFailed.WithLabelValues("mismatched_lock")))
}

func TestCountersSurviveRestart(t *testing.T) {
	db := openTestDB(t)

	reg, err := New(db)
	require.NoError(t, err)
	reg.IncSwapsCompleted()
	reg.IncSwapsCompleted()
	reg.IncSwapsCompleted()

	reopened, err := New(db)
	require.NoError(t, err)
	require.Equal(t, float64(3), testutil.ToFloat64(reopened.SwapsCompleted), "counter must restore from the persisted metrics table")
}
