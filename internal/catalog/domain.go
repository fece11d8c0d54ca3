// internal/catalog/domain.go
package catalog

import (
	"errors"

	"libraledger/internal/ledger"
)

var (
	ErrBookNotFound = errors.New("book not found")
	ErrUserNotFound = errors.New("user not found")
	ErrEmptyName    = errors.New("name must not be empty")
)

// Book is a single-copy catalog entry.
type Book struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	InStock bool   `json:"in_stock"`
}

// User is a registered reader.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Profile is a reader together with what they read and what they are reading.
type Profile struct {
	ID    int64        `json:"id"`
	Name  string       `json:"name"`
	Books ProfileBooks `json:"books"`
}

type ProfileBooks struct {
	Past    []PastBook    `json:"past"`
	Present []PresentBook `json:"present"`
}

type PastBook struct {
	Name      string `json:"name"`
	UserScore int    `json:"user_score"`
}

type PresentBook struct {
	Name string `json:"name"`
}

// NewProfile splits a reader's loans into returned and still borrowed books.
func NewProfile(user *User, loans []ledger.LoanDetail) *Profile {
	p := &Profile{
		ID:   user.ID,
		Name: user.Name,
		Books: ProfileBooks{
			Past:    []PastBook{},
			Present: []PresentBook{},
		},
	}
	for _, loan := range loans {
		if loan.Open() {
			p.Books.Present = append(p.Books.Present, PresentBook{Name: loan.BookName})
			continue
		}
		past := PastBook{Name: loan.BookName}
		if loan.Score != nil {
			past.UserScore = *loan.Score
		}
		p.Books.Past = append(p.Books.Past, past)
	}
	return p
}
