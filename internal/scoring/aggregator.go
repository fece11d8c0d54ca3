// internal/scoring/aggregator.go
package scoring

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"libraledger/internal/store"
)

// NoRatings is the score reported for a book nobody has rated yet.
const NoRatings = -1.0

const (
	tableLoans    = "loans"
	colBookID     = "book_id"
	colReturnedAt = "returned_at"
	colScore      = "score"
)

// Average is the mean reader score of one book.
type Average struct {
	BookID  int64   `json:"id"`
	Score   float64 `json:"score"`
	Ratings int64   `json:"ratings"`
}

// HasRatings reports whether at least one closed loan contributed to Score.
func (a Average) HasRatings() bool {
	return a.Ratings > 0
}

// Store is the read side of the store client.
type Store interface {
	QueryDataset(ctx context.Context, ds *goqu.SelectDataset, each store.RowFunc) error
	From(table ...any) *goqu.SelectDataset
}

// Aggregator computes ratings from closed loans. Reads are not serialised with writes,
// so a result may miss a return that is still in flight.
type Aggregator struct {
	store Store
}

func NewAggregator(s Store) *Aggregator {
	return &Aggregator{store: s}
}

// AverageScore returns the mean score over closed loans of bookID, or NoRatings when there are none.
func (a *Aggregator) AverageScore(ctx context.Context, bookID int64) (Average, error) {
	ds := a.store.From(tableLoans).
		Select(
			goqu.COUNT(colScore),
			goqu.L("AVG(CAST(? AS DOUBLE PRECISION))", goqu.C(colScore)),
		).
		Where(
			goqu.C(colBookID).Eq(bookID),
			goqu.C(colReturnedAt).IsNotNull(),
		)

	var (
		ratings int64
		mean    sql.NullFloat64
	)
	err := a.store.QueryDataset(ctx, ds, func(row store.Scanner) error {
		return row.Scan(&ratings, &mean)
	})
	if err != nil {
		return Average{}, fmt.Errorf("failed to average scores of book %d: %w", bookID, err)
	}

	avg := Average{BookID: bookID, Score: NoRatings, Ratings: ratings}
	if ratings > 0 && mean.Valid {
		avg.Score = mean.Float64
	}
	return avg, nil
}
