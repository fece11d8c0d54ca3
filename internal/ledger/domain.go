// internal/ledger/domain.go
package ledger

import (
	"errors"
	"time"
)

// ErrDuplicateOpenLoan is returned when a book already has an open loan.
// It can only surface if something bypassed the inventory guard.
var ErrDuplicateOpenLoan = errors.New("book already has an open loan")

// Loan is one borrowing of one book by one reader. ReturnedAt and Score are set together, once.
type Loan struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	BookID     int64      `json:"book_id"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	Score      *int       `json:"score,omitempty"`
}

// Open reports whether the loan has not been closed yet.
func (l Loan) Open() bool {
	return l.ReturnedAt == nil
}

// LoanDetail is a loan together with the name of the borrowed book.
type LoanDetail struct {
	Loan
	BookName string `json:"book_name"`
}
