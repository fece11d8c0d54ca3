// internal/inventory/guard.go
package inventory

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"libraledger/internal/store"
)

const (
	tableBooks    = "books"
	tableLoans    = "loans"
	colID         = "id"
	colInStock    = "in_stock"
	colBookID     = "book_id"
	colUserID     = "user_id"
	colReturnedAt = "returned_at"

	inStock    = 1
	outOfStock = 0
)

// Store is the part of the store client the guard needs.
type Store interface {
	ConditionalUpdate(ctx context.Context, table string, match exp.Expression, values goqu.Record) (int64, error)
	QueryDataset(ctx context.Context, ds *goqu.SelectDataset, each store.RowFunc) error
	From(table ...any) *goqu.SelectDataset
}

// Guard owns the stock flag of every book. Each transition is a single conditional
// update, so of any number of concurrent callers at most one observes success.
type Guard struct {
	store Store
}

func NewGuard(s Store) *Guard {
	return &Guard{store: s}
}

// TryReserve flips a book from in stock to out of stock.
// It returns false when the book is already out or does not exist.
func (g *Guard) TryReserve(ctx context.Context, bookID int64) (bool, error) {
	return g.flip(ctx, "reserve", bookID,
		goqu.Ex{colID: bookID, colInStock: inStock},
		outOfStock,
	)
}

// TryRelease flips a book from out of stock back to in stock.
// It is the compensating action of a reservation whose loan could not be opened.
func (g *Guard) TryRelease(ctx context.Context, bookID int64) (bool, error) {
	return g.flip(ctx, "release", bookID,
		goqu.Ex{colID: bookID, colInStock: outOfStock},
		inStock,
	)
}

// TryReleaseHeldBy flips a book back to in stock only while userID holds an open loan on it.
// The holder check is part of the same statement as the flip.
func (g *Guard) TryReleaseHeldBy(ctx context.Context, bookID, userID int64) (bool, error) {
	heldBy := g.store.From(tableLoans).
		Select(goqu.L("1")).
		Where(goqu.Ex{colBookID: bookID, colUserID: userID, colReturnedAt: nil})

	return g.flip(ctx, "release", bookID,
		goqu.And(
			goqu.Ex{colID: bookID, colInStock: outOfStock},
			goqu.L("EXISTS ?", heldBy),
		),
		inStock,
	)
}

// Mismatches counts books whose stock flag disagrees with their loans:
// in stock with an open loan, or out of stock without one.
func (g *Guard) Mismatches(ctx context.Context) (int64, error) {
	openLoan := g.store.From(goqu.T(tableLoans).As("l")).
		Select(goqu.L("1")).
		Where(
			goqu.I("l."+colBookID).Eq(goqu.I("b."+colID)),
			goqu.I("l."+colReturnedAt).IsNull(),
		)

	ds := g.store.From(goqu.T(tableBooks).As("b")).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.Or(
			goqu.And(goqu.I("b."+colInStock).Eq(inStock), goqu.L("EXISTS ?", openLoan)),
			goqu.And(goqu.I("b."+colInStock).Eq(outOfStock), goqu.L("NOT EXISTS ?", openLoan)),
		))

	var count int64
	err := g.store.QueryDataset(ctx, ds, func(row store.Scanner) error {
		return row.Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to audit stock flags: %w", err)
	}
	return count, nil
}

func (g *Guard) flip(ctx context.Context, action string, bookID int64, match exp.Expression, to int) (bool, error) {
	affected, err := g.store.ConditionalUpdate(ctx, tableBooks, match, goqu.Record{colInStock: to})
	if err != nil {
		return false, fmt.Errorf("failed to %s book %d: %w", action, bookID, err)
	}
	return affected == 1, nil
}
