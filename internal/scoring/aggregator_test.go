package scoring_test

import (
	"context"
	"testing"

	"github.com/doug-martin/goqu/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraledger/internal/db"
	"libraledger/internal/ledger"
	"libraledger/internal/scoring"
)

func TestAverageScoreNoRatings(t *testing.T) {
	// setup
	ctx := context.Background()
	client := db.NewTestClient(t)
	dune, err := client.Insert(ctx, "books", goqu.Record{"name": "Dune", "in_stock": 0})
	require.NoError(t, err)
	_, err = ledger.New(client).OpenLoan(ctx, 7, dune)
	require.NoError(t, err)

	// act
	avg, err := scoring.NewAggregator(client).AverageScore(ctx, dune)

	// assert
	require.NoError(t, err)
	assert.False(t, avg.HasRatings())
	assert.Equal(t, scoring.NoRatings, avg.Score)
	assert.Zero(t, avg.Ratings)
}

func TestAverageScoreMeanOfClosedLoansOnly(t *testing.T) {
	// setup
	ctx := context.Background()
	client := db.NewTestClient(t)
	loans := ledger.New(client)
	dune, err := client.Insert(ctx, "books", goqu.Record{"name": "Dune", "in_stock": 0})
	require.NoError(t, err)

	for user, score := range map[int64]int{7: 8, 8: 5, 9: 10} {
		_, err := loans.OpenLoan(ctx, user, dune)
		require.NoError(t, err)
		_, err = loans.CloseLoan(ctx, user, dune, score)
		require.NoError(t, err)
	}
	_, err = loans.OpenLoan(ctx, 10, dune)
	require.NoError(t, err)

	// act
	avg, err := scoring.NewAggregator(client).AverageScore(ctx, dune)

	// assert
	require.NoError(t, err)
	assert.True(t, avg.HasRatings())
	assert.Equal(t, int64(3), avg.Ratings)
	assert.InDelta(t, 23.0/3.0, avg.Score, 1e-9)
}

func TestAverageScoreUnknownBookHasNoRatings(t *testing.T) {
	client := db.NewTestClient(t)

	avg, err := scoring.NewAggregator(client).AverageScore(context.Background(), 404)

	require.NoError(t, err)
	assert.Equal(t, scoring.NoRatings, avg.Score)
}
