// internal/lending/domain.go
package lending

// Outcome is the closed set of results a lending operation can report.
// Precondition failures are outcomes, not errors.
type Outcome string

const (
	OutcomeBorrowed        Outcome = "borrowed"
	OutcomeOutOfStock      Outcome = "out_of_stock"
	OutcomeReturned        Outcome = "returned"
	OutcomeNothingToReturn Outcome = "nothing_to_return"
	OutcomeRated           Outcome = "rated"
	OutcomeNoRatings       Outcome = "no_ratings"
	OutcomeUnknownBook     Outcome = "unknown_book"
)

func (o Outcome) String() string {
	return string(o)
}

// Succeeded reports whether the operation changed or found what was asked for.
func (o Outcome) Succeeded() bool {
	switch o {
	case OutcomeBorrowed, OutcomeReturned, OutcomeRated, OutcomeNoRatings:
		return true
	default:
		return false
	}
}

type BorrowResult struct {
	Outcome Outcome `json:"outcome"`
	LoanID  int64   `json:"loan_id,omitempty"`
}

type ReturnResult struct {
	Outcome Outcome `json:"outcome"`
}

// RatingResult carries the mean score of a book; Score is scoring.NoRatings when unrated.
type RatingResult struct {
	Outcome Outcome `json:"outcome"`
	BookID  int64   `json:"id"`
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Ratings int64   `json:"ratings"`
}

// LoanOpenedPayload is journaled when a borrow succeeds.
type LoanOpenedPayload struct {
	LoanID int64 `json:"loan_id"`
}

// LoanClosedPayload is journaled when a return succeeds.
type LoanClosedPayload struct {
	Score int `json:"score"`
}

// IncidentPayload is journaled for compensations and ledger inconsistencies.
type IncidentPayload struct {
	Reason string `json:"reason"`
	Score  *int   `json:"score,omitempty"`
}
