// internal/lending/implementation.go
package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"libraledger/internal/catalog"
	"libraledger/internal/journal"
	"libraledger/internal/scoring"
)

// Books creates and looks up catalog entries.
type Books interface {
	CreateBook(ctx context.Context, name string) (*catalog.Book, error)
	GetBook(ctx context.Context, id int64) (*catalog.Book, error)
}

// Inventory owns the stock flag.
type Inventory interface {
	TryReserve(ctx context.Context, bookID int64) (bool, error)
	TryRelease(ctx context.Context, bookID int64) (bool, error)
	TryReleaseHeldBy(ctx context.Context, bookID, userID int64) (bool, error)
}

// Ledger records loans.
type Ledger interface {
	OpenLoan(ctx context.Context, userID, bookID int64) (int64, error)
	CloseLoan(ctx context.Context, userID, bookID int64, score int) (bool, error)
}

// Scores aggregates ratings.
type Scores interface {
	AverageScore(ctx context.Context, bookID int64) (scoring.Average, error)
}

// Journal keeps the audit trail. Failures to write it never change an outcome.
type Journal interface {
	Append(ctx context.Context, entry journal.Entry) (journal.Event, error)
}

// Option configures the lending service.
type Option func(*service)

// WithJournal records every transition in j.
func WithJournal(j Journal) Option {
	return func(s *service) {
		s.journal = j
	}
}

// WithLogger sets the logger for warnings about compensations and ledger inconsistencies.
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithMeterProvider sets where outcome counters are reported.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(s *service) {
		s.meterProvider = provider
	}
}

// WithTracerProvider sets where lending spans are exported.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(s *service) {
		s.tracer = provider.Tracer("libraledger/lending")
	}
}

// service implements the Service interface.
type service struct {
	books         Books
	inventory     Inventory
	ledger        Ledger
	scores        Scores
	journal       Journal
	logger        *slog.Logger
	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	metrics       *metrics
}

// NewService creates a new lending service instance.
func NewService(books Books, inventory Inventory, ledger Ledger, scores Scores, options ...Option) (Service, error) {
	s := &service{
		books:         books,
		inventory:     inventory,
		ledger:        ledger,
		scores:        scores,
		logger:        slog.Default(),
		tracer:        otel.Tracer("libraledger/lending"),
		meterProvider: otel.GetMeterProvider(),
	}
	for _, option := range options {
		option(s)
	}

	m, err := newMetrics(s.meterProvider.Meter("libraledger/lending"))
	if err != nil {
		return nil, fmt.Errorf("failed to create lending metrics: %w", err)
	}
	s.metrics = m

	return s, nil
}

// CreateBook adds an in-stock book to the catalog.
func (s *service) CreateBook(ctx context.Context, name string) (*catalog.Book, error) {
	ctx, span := s.tracer.Start(ctx, "lending.create_book")
	defer span.End()

	book, err := s.books.CreateBook(ctx, name)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("book.id", book.ID))
	return book, nil
}

// Borrow reserves the book and opens a loan for the reader.
// If the loan cannot be opened the reservation is released again before the error is returned.
func (s *service) Borrow(ctx context.Context, userID, bookID int64) (BorrowResult, error) {
	ctx, span := s.tracer.Start(ctx, "lending.borrow", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int64("book.id", bookID),
	))
	defer span.End()

	reserved, err := s.inventory.TryReserve(ctx, bookID)
	if err != nil {
		recordError(span, err)
		return BorrowResult{}, fmt.Errorf("failed to borrow book: %w", err)
	}
	if !reserved {
		return s.borrowed(ctx, span, BorrowResult{Outcome: OutcomeOutOfStock}), nil
	}

	// The reservation is committed; from here on only the compensation may undo it,
	// so it must not inherit the caller's cancellation.
	compensation := func(cause error) error {
		cctx := context.WithoutCancel(ctx)
		s.metrics.compensation(cctx)
		span.AddEvent("reservation.compensated")

		released, err := s.inventory.TryRelease(cctx, bookID)
		if err != nil {
			s.logger.ErrorContext(cctx, "failed to compensate reservation, book is out of stock without a loan",
				"book_id", bookID, "user_id", userID, "error", err, "cause", cause)
			return fmt.Errorf("failed to compensate reservation: %w", err)
		}
		if !released {
			s.logger.ErrorContext(cctx, "compensation found book already back in stock",
				"book_id", bookID, "user_id", userID, "cause", cause)
		} else {
			s.logger.WarnContext(cctx, "released reservation after failed loan",
				"book_id", bookID, "user_id", userID, "cause", cause)
		}
		s.record(cctx, journal.Entry{
			BookID:  bookID,
			UserID:  userID,
			Type:    journal.ReservationCompensated,
			Payload: IncidentPayload{Reason: cause.Error()},
		})
		return nil
	}

	loanID, err := s.ledger.OpenLoan(ctx, userID, bookID)
	if err != nil {
		recordError(span, err)
		return BorrowResult{}, errors.Join(fmt.Errorf("failed to open loan: %w", err), compensation(err))
	}

	s.record(ctx, journal.Entry{
		BookID:  bookID,
		UserID:  userID,
		Type:    journal.LoanOpened,
		Payload: LoanOpenedPayload{LoanID: loanID},
	})

	span.SetAttributes(attribute.Int64("loan.id", loanID))
	return s.borrowed(ctx, span, BorrowResult{Outcome: OutcomeBorrowed, LoanID: loanID}), nil
}

// Return puts the book back in stock and closes the reader's loan with score.
// score is expected to be validated by the caller.
func (s *service) Return(ctx context.Context, userID, bookID int64, score int) (ReturnResult, error) {
	ctx, span := s.tracer.Start(ctx, "lending.return", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int64("book.id", bookID),
		attribute.Int("score", score),
	))
	defer span.End()

	released, err := s.inventory.TryReleaseHeldBy(ctx, bookID, userID)
	if err != nil {
		recordError(span, err)
		return ReturnResult{}, fmt.Errorf("failed to return book: %w", err)
	}
	if !released {
		return s.returned(ctx, span, ReturnResult{Outcome: OutcomeNothingToReturn}), nil
	}

	// Stock is restored and stays restored. A loan that cannot be closed is an
	// inconsistency to investigate, not a failed return.
	cctx := context.WithoutCancel(ctx)
	closed, err := s.ledger.CloseLoan(cctx, userID, bookID, score)
	switch {
	case err != nil:
		s.inconsistency(cctx, span, userID, bookID, score, err.Error())
	case !closed:
		s.inconsistency(cctx, span, userID, bookID, score, "no open loan to close")
	default:
		s.record(cctx, journal.Entry{
			BookID:  bookID,
			UserID:  userID,
			Type:    journal.LoanClosed,
			Payload: LoanClosedPayload{Score: score},
		})
	}

	return s.returned(ctx, span, ReturnResult{Outcome: OutcomeReturned}), nil
}

// RateAverage reports the mean score of a book over its closed loans.
func (s *service) RateAverage(ctx context.Context, bookID int64) (RatingResult, error) {
	ctx, span := s.tracer.Start(ctx, "lending.rate_average", trace.WithAttributes(
		attribute.Int64("book.id", bookID),
	))
	defer span.End()

	book, err := s.books.GetBook(ctx, bookID)
	if errors.Is(err, catalog.ErrBookNotFound) {
		return s.rated(ctx, span, RatingResult{Outcome: OutcomeUnknownBook, BookID: bookID, Score: scoring.NoRatings}), nil
	}
	if err != nil {
		recordError(span, err)
		return RatingResult{}, fmt.Errorf("failed to rate book: %w", err)
	}

	avg, err := s.scores.AverageScore(ctx, bookID)
	if err != nil {
		recordError(span, err)
		return RatingResult{}, fmt.Errorf("failed to rate book: %w", err)
	}

	result := RatingResult{
		Outcome: OutcomeRated,
		BookID:  book.ID,
		Name:    book.Name,
		Score:   avg.Score,
		Ratings: avg.Ratings,
	}
	if !avg.HasRatings() {
		result.Outcome = OutcomeNoRatings
		result.Score = scoring.NoRatings
	}
	return s.rated(ctx, span, result), nil
}

func (s *service) inconsistency(ctx context.Context, span trace.Span, userID, bookID int64, score int, reason string) {
	s.metrics.inconsistency(ctx)
	span.AddEvent("ledger.inconsistency", trace.WithAttributes(attribute.String("reason", reason)))
	s.logger.WarnContext(ctx, "ledger inconsistency: book returned to stock but loan not closed",
		"book_id", bookID, "user_id", userID, "score", score, "reason", reason)
	s.record(ctx, journal.Entry{
		BookID:  bookID,
		UserID:  userID,
		Type:    journal.LedgerInconsistency,
		Payload: IncidentPayload{Reason: reason, Score: &score},
	})
}

func (s *service) record(ctx context.Context, entry journal.Entry) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.Append(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "failed to journal lending event",
			"event_type", string(entry.Type), "book_id", entry.BookID, "error", err)
	}
}

func (s *service) borrowed(ctx context.Context, span trace.Span, r BorrowResult) BorrowResult {
	span.SetAttributes(attribute.String("outcome", r.Outcome.String()))
	s.metrics.outcome(ctx, "borrow", r.Outcome)
	return r
}

func (s *service) returned(ctx context.Context, span trace.Span, r ReturnResult) ReturnResult {
	span.SetAttributes(attribute.String("outcome", r.Outcome.String()))
	s.metrics.outcome(ctx, "return", r.Outcome)
	return r
}

func (s *service) rated(ctx context.Context, span trace.Span, r RatingResult) RatingResult {
	span.SetAttributes(attribute.String("outcome", r.Outcome.String()))
	s.metrics.outcome(ctx, "rate_average", r.Outcome)
	return r
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
