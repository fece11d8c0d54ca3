package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraledger/internal/db"
	"libraledger/internal/ledger"
	"libraledger/internal/store"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*store.Client, *ledger.Ledger) {
	t.Helper()
	client := db.NewTestClient(t)
	return client, ledger.New(client, ledger.WithClock(func() time.Time { return fixedNow }))
}

func addBook(t *testing.T, client *store.Client, name string) int64 {
	t.Helper()
	id, err := client.Insert(context.Background(), "books", goqu.Record{"name": name, "in_stock": 0})
	require.NoError(t, err)
	return id
}

func TestOpenLoanReturnsIncreasingIDs(t *testing.T) {
	// setup
	ctx := context.Background()
	client, l := setup(t)
	dune := addBook(t, client, "Dune")
	emma := addBook(t, client, "Emma")

	// act
	first, err := l.OpenLoan(ctx, 7, dune)
	require.NoError(t, err)
	second, err := l.OpenLoan(ctx, 7, emma)
	require.NoError(t, err)

	// assert
	assert.Greater(t, second, first)
}

func TestOpenLoanRejectsSecondOpenLoanOnBook(t *testing.T) {
	// setup
	ctx := context.Background()
	client, l := setup(t)
	dune := addBook(t, client, "Dune")
	_, err := l.OpenLoan(ctx, 7, dune)
	require.NoError(t, err)

	// act
	_, err = l.OpenLoan(ctx, 8, dune)

	// assert
	assert.ErrorIs(t, err, ledger.ErrDuplicateOpenLoan)
}

func TestCloseLoanClosesExactlyOnce(t *testing.T) {
	// setup
	ctx := context.Background()
	client, l := setup(t)
	dune := addBook(t, client, "Dune")
	_, err := l.OpenLoan(ctx, 7, dune)
	require.NoError(t, err)

	// act
	first, err := l.CloseLoan(ctx, 7, dune, 9)
	require.NoError(t, err)
	second, err := l.CloseLoan(ctx, 7, dune, 3)
	require.NoError(t, err)

	// assert
	assert.True(t, first)
	assert.False(t, second)

	loans, err := l.LoansByUser(ctx, 7)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	require.NotNil(t, loans[0].Score)
	assert.Equal(t, 9, *loans[0].Score)
	require.NotNil(t, loans[0].ReturnedAt)
	assert.True(t, fixedNow.Equal(*loans[0].ReturnedAt))
}

func TestCloseLoanRequiresTheHolder(t *testing.T) {
	ctx := context.Background()
	client, l := setup(t)
	dune := addBook(t, client, "Dune")
	_, err := l.OpenLoan(ctx, 7, dune)
	require.NoError(t, err)

	closed, err := l.CloseLoan(ctx, 8, dune, 5)

	require.NoError(t, err)
	assert.False(t, closed)
}

func TestOpenLoanAllowedAgainAfterClose(t *testing.T) {
	ctx := context.Background()
	client, l := setup(t)
	dune := addBook(t, client, "Dune")
	_, err := l.OpenLoan(ctx, 7, dune)
	require.NoError(t, err)
	_, err = l.CloseLoan(ctx, 7, dune, 9)
	require.NoError(t, err)

	_, err = l.OpenLoan(ctx, 8, dune)

	assert.NoError(t, err)
}

func TestOpenLoanOf(t *testing.T) {
	// setup
	ctx := context.Background()
	client, l := setup(t)
	dune := addBook(t, client, "Dune")

	// act + assert
	loan, err := l.OpenLoanOf(ctx, dune)
	require.NoError(t, err)
	assert.Nil(t, loan)

	id, err := l.OpenLoan(ctx, 7, dune)
	require.NoError(t, err)

	loan, err = l.OpenLoanOf(ctx, dune)
	require.NoError(t, err)
	require.NotNil(t, loan)
	assert.Equal(t, id, loan.ID)
	assert.Equal(t, int64(7), loan.UserID)
	assert.True(t, loan.Open())
}

func TestLoansByUserSplitsPastAndPresent(t *testing.T) {
	// setup
	ctx := context.Background()
	client, l := setup(t)
	dune := addBook(t, client, "Dune")
	emma := addBook(t, client, "Emma")
	_, err := l.OpenLoan(ctx, 7, dune)
	require.NoError(t, err)
	_, err = l.CloseLoan(ctx, 7, dune, 6)
	require.NoError(t, err)
	_, err = l.OpenLoan(ctx, 7, emma)
	require.NoError(t, err)
	_, err = l.OpenLoan(ctx, 8, dune)
	require.NoError(t, err)

	// act
	loans, err := l.LoansByUser(ctx, 7)

	// assert
	require.NoError(t, err)
	require.Len(t, loans, 2)
	assert.Equal(t, "Dune", loans[0].BookName)
	assert.False(t, loans[0].Open())
	assert.Equal(t, "Emma", loans[1].BookName)
	assert.True(t, loans[1].Open())
	assert.Nil(t, loans[1].Score)
}
