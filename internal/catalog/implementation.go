// internal/catalog/implementation.go
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"libraledger/internal/store"
)

const (
	tableBooks = "books"
	tableUsers = "users"
	colID      = "id"
	colName    = "name"
	colInStock = "in_stock"
)

// Store is the part of the store client the catalog needs.
type Store interface {
	Insert(ctx context.Context, table string, values goqu.Record) (int64, error)
	Query(ctx context.Context, table string, predicate exp.Expression, each store.RowFunc, columns ...any) error
}

// service implements the Service interface.
type service struct {
	store Store
}

// NewService creates a new catalog service instance.
func NewService(s Store) Service {
	return &service{store: s}
}

// CreateBook adds a book to the catalog. New books are in stock.
func (s *service) CreateBook(ctx context.Context, name string) (*Book, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	id, err := s.store.Insert(ctx, tableBooks, goqu.Record{colName: name, colInStock: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to create book: %w", err)
	}
	return &Book{ID: id, Name: name, InStock: true}, nil
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id int64) (*Book, error) {
	books, err := s.queryBooks(ctx, goqu.C(colID).Eq(id))
	if err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return nil, fmt.Errorf("book %d: %w", id, ErrBookNotFound)
	}
	return books[0], nil
}

// ListBooks returns the whole catalog.
func (s *service) ListBooks(ctx context.Context) ([]*Book, error) {
	return s.queryBooks(ctx, nil)
}

// CreateUser registers a reader.
func (s *service) CreateUser(ctx context.Context, name string) (*User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	id, err := s.store.Insert(ctx, tableUsers, goqu.Record{colName: name})
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &User{ID: id, Name: name}, nil
}

// GetUser retrieves a reader by ID.
func (s *service) GetUser(ctx context.Context, id int64) (*User, error) {
	users, err := s.queryUsers(ctx, goqu.C(colID).Eq(id))
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("user %d: %w", id, ErrUserNotFound)
	}
	return users[0], nil
}

// ListUsers returns every registered reader.
func (s *service) ListUsers(ctx context.Context) ([]*User, error) {
	return s.queryUsers(ctx, nil)
}

func (s *service) queryBooks(ctx context.Context, predicate exp.Expression) ([]*Book, error) {
	books := make([]*Book, 0)
	err := s.store.Query(ctx, tableBooks, predicate, func(row store.Scanner) error {
		var (
			book    Book
			inStock int
		)
		if err := row.Scan(&book.ID, &book.Name, &inStock); err != nil {
			return fmt.Errorf("failed to scan book: %w", err)
		}
		book.InStock = inStock == 1
		books = append(books, &book)
		return nil
	}, colID, colName, colInStock)
	if err != nil {
		return nil, fmt.Errorf("failed to read books: %w", err)
	}
	return books, nil
}

func (s *service) queryUsers(ctx context.Context, predicate exp.Expression) ([]*User, error) {
	users := make([]*User, 0)
	err := s.store.Query(ctx, tableUsers, predicate, func(row store.Scanner) error {
		var user User
		if err := row.Scan(&user.ID, &user.Name); err != nil {
			return fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &user)
		return nil
	}, colID, colName)
	if err != nil {
		return nil, fmt.Errorf("failed to read users: %w", err)
	}
	return users, nil
}
