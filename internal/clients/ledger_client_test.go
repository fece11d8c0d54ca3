package clients_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraledger/internal/catalog"
	"libraledger/internal/clients"
	"libraledger/internal/db"
	"libraledger/internal/inventory"
	"libraledger/internal/ledger"
	"libraledger/internal/lending"
	"libraledger/internal/scoring"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	client := db.NewTestClient(t)
	svc, err := lending.NewService(
		catalog.NewService(client),
		inventory.NewGuard(client),
		ledger.New(client),
		scoring.NewAggregator(client),
		lending.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	router := chi.NewRouter()
	lending.NewHandler(svc, nil).Routes(router)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func TestLedgerClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	server := newServer(t)
	c := clients.NewLedgerClient(server.URL).WithHTTPClient(server.Client())

	book, err := c.CreateBook(ctx, "Dune")
	require.NoError(t, err)
	assert.True(t, book.InStock)

	borrowed, err := c.Borrow(ctx, 7, book.ID)
	require.NoError(t, err)
	assert.Equal(t, lending.OutcomeBorrowed, borrowed.Outcome)
	assert.Positive(t, borrowed.LoanID)

	outOfStock, err := c.Borrow(ctx, 8, book.ID)
	require.NoError(t, err)
	assert.Equal(t, lending.OutcomeOutOfStock, outOfStock.Outcome)

	nothing, err := c.Return(ctx, 8, book.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, lending.OutcomeNothingToReturn, nothing.Outcome)

	returned, err := c.Return(ctx, 7, book.ID, 8)
	require.NoError(t, err)
	assert.Equal(t, lending.OutcomeReturned, returned.Outcome)

	rating, err := c.RateAverage(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, lending.OutcomeRated, rating.Outcome)
	assert.InDelta(t, 8.0, rating.Score, 1e-9)

	unknown, err := c.RateAverage(ctx, 999)
	require.NoError(t, err)
	assert.Equal(t, lending.OutcomeUnknownBook, unknown.Outcome)
}

func TestLedgerClientSurfacesValidationErrors(t *testing.T) {
	server := newServer(t)
	c := clients.NewLedgerClient(server.URL).WithHTTPClient(server.Client())

	_, err := c.Return(context.Background(), 7, 1, 42)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestLedgerClientServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()
	c := clients.NewLedgerClient(server.URL)

	_, err := c.Borrow(context.Background(), 1, 1)

	assert.ErrorContains(t, err, "500")
}
