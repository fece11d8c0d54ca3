// internal/lending/service.go
package lending

import (
	"context"

	"libraledger/internal/catalog"
)

// Service defines the lending operations.
type Service interface {
	CreateBook(ctx context.Context, name string) (*catalog.Book, error)
	Borrow(ctx context.Context, userID, bookID int64) (BorrowResult, error)
	Return(ctx context.Context, userID, bookID int64, score int) (ReturnResult, error)
	RateAverage(ctx context.Context, bookID int64) (RatingResult, error)
}
