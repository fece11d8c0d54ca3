// internal/ledger/ledger.go
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"libraledger/internal/store"
)

const (
	tableLoans    = "loans"
	tableBooks    = "books"
	colID         = "id"
	colUserID     = "user_id"
	colBookID     = "book_id"
	colBorrowedAt = "borrowed_at"
	colReturnedAt = "returned_at"
	colScore      = "score"
	colName       = "name"
)

// Store is the part of the store client the ledger needs.
type Store interface {
	Insert(ctx context.Context, table string, values goqu.Record) (int64, error)
	ConditionalUpdate(ctx context.Context, table string, match exp.Expression, values goqu.Record) (int64, error)
	QueryDataset(ctx context.Context, ds *goqu.SelectDataset, each store.RowFunc) error
	From(table ...any) *goqu.SelectDataset
}

// Ledger records loans. It trusts the inventory guard to have reserved the book before a loan is opened.
type Ledger struct {
	store Store
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock used for borrowed_at and returned_at.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates a Ledger on top of a store.
func New(s Store, options ...Option) *Ledger {
	l := &Ledger{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// OpenLoan records that userID borrowed bookID now and returns the new loan id.
func (l *Ledger) OpenLoan(ctx context.Context, userID, bookID int64) (int64, error) {
	id, err := l.store.Insert(ctx, tableLoans, goqu.Record{
		colUserID:     userID,
		colBookID:     bookID,
		colBorrowedAt: l.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return 0, fmt.Errorf("opening loan of book %d for user %d: %w", bookID, userID, ErrDuplicateOpenLoan)
		}
		return 0, fmt.Errorf("failed to open loan: %w", err)
	}
	return id, nil
}

// CloseLoan closes the open loan of bookID held by userID, recording score.
// It returns false when no such open loan exists. The score is stored as given.
func (l *Ledger) CloseLoan(ctx context.Context, userID, bookID int64, score int) (bool, error) {
	affected, err := l.store.ConditionalUpdate(ctx, tableLoans,
		goqu.Ex{
			colUserID:     userID,
			colBookID:     bookID,
			colReturnedAt: nil,
		},
		goqu.Record{
			colReturnedAt: l.now(),
			colScore:      score,
		},
	)
	if err != nil {
		return false, fmt.Errorf("failed to close loan: %w", err)
	}
	return affected == 1, nil
}

// OpenLoanOf returns the open loan of a book, if any.
func (l *Ledger) OpenLoanOf(ctx context.Context, bookID int64) (*Loan, error) {
	ds := l.store.From(tableLoans).
		Select(colID, colUserID, colBookID, colBorrowedAt, colReturnedAt, colScore).
		Where(goqu.Ex{colBookID: bookID, colReturnedAt: nil})

	var found *Loan
	err := l.store.QueryDataset(ctx, ds, func(row store.Scanner) error {
		loan, err := scanLoan(row)
		if err != nil {
			return err
		}
		found = &loan
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read open loan: %w", err)
	}
	return found, nil
}

// LoansByUser returns every loan of a reader, oldest first, with book names.
func (l *Ledger) LoansByUser(ctx context.Context, userID int64) ([]LoanDetail, error) {
	ds := l.store.From(goqu.T(tableLoans).As("l")).
		Join(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("b."+colID).Eq(goqu.I("l."+colBookID)))).
		Select(
			goqu.I("l."+colID),
			goqu.I("l."+colUserID),
			goqu.I("l."+colBookID),
			goqu.I("l."+colBorrowedAt),
			goqu.I("l."+colReturnedAt),
			goqu.I("l."+colScore),
			goqu.I("b."+colName),
		).
		Where(goqu.I("l." + colUserID).Eq(userID)).
		Order(goqu.I("l." + colID).Asc())

	loans := make([]LoanDetail, 0)
	err := l.store.QueryDataset(ctx, ds, func(row store.Scanner) error {
		var (
			detail     LoanDetail
			returnedAt sql.NullTime
			score      sql.NullInt64
		)
		err := row.Scan(
			&detail.ID,
			&detail.UserID,
			&detail.BookID,
			&detail.BorrowedAt,
			&returnedAt,
			&score,
			&detail.BookName,
		)
		if err != nil {
			return err
		}
		detail.Loan = fillClosing(detail.Loan, returnedAt, score)
		loans = append(loans, detail)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list loans of user %d: %w", userID, err)
	}
	return loans, nil
}

func scanLoan(row store.Scanner) (Loan, error) {
	var (
		loan       Loan
		returnedAt sql.NullTime
		score      sql.NullInt64
	)
	if err := row.Scan(&loan.ID, &loan.UserID, &loan.BookID, &loan.BorrowedAt, &returnedAt, &score); err != nil {
		return Loan{}, err
	}
	return fillClosing(loan, returnedAt, score), nil
}

func fillClosing(loan Loan, returnedAt sql.NullTime, score sql.NullInt64) Loan {
	if returnedAt.Valid {
		t := returnedAt.Time
		loan.ReturnedAt = &t
	}
	if score.Valid {
		s := int(score.Int64)
		loan.Score = &s
	}
	return loan
}
