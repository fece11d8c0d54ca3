// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"libraledger/internal/catalog"
	"libraledger/internal/lending"
)

// Lender is the lending API under test, either in-process or over HTTP.
type Lender interface {
	CreateBook(ctx context.Context, name string) (*catalog.Book, error)
	Borrow(ctx context.Context, userID, bookID int64) (lending.BorrowResult, error)
	Return(ctx context.Context, userID, bookID int64, score int) (lending.ReturnResult, error)
	RateAverage(ctx context.Context, bookID int64) (lending.RatingResult, error)
}

// MismatchCounter counts books whose stock flag disagrees with their loans.
type MismatchCounter func(ctx context.Context) (int64, error)

// RaceConfig sizes the race experiments.
type RaceConfig struct {
	Concurrency int
	// FirstUserID is the first of Concurrency consecutive reader ids used by the experiment.
	FirstUserID int64
}

func (c RaceConfig) withDefaults() RaceConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 100
	}
	if c.FirstUserID <= 0 {
		c.FirstUserID = time.Now().UnixNano() % 1_000_000_000
	}
	return c
}

// RegisterExperiments registers the built-in lending experiments with the engine.
func (e *Engine) RegisterExperiments(lender Lender, mismatches MismatchCounter, cfg RaceConfig) {
	e.RegisterExperiment(ConcurrentBorrowRace(lender, mismatches, cfg))
	e.RegisterExperiment(ConcurrentReturnRace(lender, mismatches, cfg))
}

func stockConsistency(mismatches MismatchCounter) Metric {
	return Metric{
		Name: "stock_mismatches",
		Query: func(ctx context.Context) (float64, error) {
			n, err := mismatches(ctx)
			return float64(n), err
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

// ConcurrentBorrowRace validates that a single copy is lent exactly once
func ConcurrentBorrowRace(lender Lender, mismatches MismatchCounter, cfg RaceConfig) Experiment {
	cfg = cfg.withDefaults()
	var successes, outOfStock atomic.Int64

	return Experiment{
		Name:        "concurrent-borrow-race",
		Hypothesis:  "Exactly one of many simultaneous borrows of the same book succeeds",
		SteadyState: []Metric{stockConsistency(mismatches)},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "lending-service",
				Execute: func(ctx context.Context) error {
					successes.Store(0)
					outOfStock.Store(0)

					book, err := lender.CreateBook(ctx, "chaos borrow race")
					if err != nil {
						return fmt.Errorf("creating book: %w", err)
					}

					return race(cfg.Concurrency, func(i int) error {
						result, err := lender.Borrow(ctx, cfg.FirstUserID+int64(i), book.ID)
						if err != nil {
							return err
						}
						switch result.Outcome {
						case lending.OutcomeBorrowed:
							successes.Add(1)
						case lending.OutcomeOutOfStock:
							outOfStock.Add(1)
						}
						return nil
					})
				},
			},
		},
		Probes: []Metric{
			counter("borrow_successes", &successes),
			counter("borrow_rejections", &outOfStock),
		},
		Validation: []Assertion{
			{
				Metric:    "borrow_successes",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Exactly one borrow should succeed",
			},
			{
				Metric:    "borrow_rejections",
				Condition: func(v float64) bool { return v == float64(cfg.Concurrency-1) },
				Message:   "Every other borrow should be rejected as out of stock",
			},
			{
				Metric:    "stock_mismatches",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Stock flags should agree with open loans",
			},
		},
	}
}

// ConcurrentReturnRace validates that a loan is closed, and scored, exactly once
func ConcurrentReturnRace(lender Lender, mismatches MismatchCounter, cfg RaceConfig) Experiment {
	cfg = cfg.withDefaults()
	var successes atomic.Int64
	var bookID atomic.Int64

	return Experiment{
		Name:        "concurrent-return-race",
		Hypothesis:  "Exactly one of many simultaneous returns of the same loan succeeds and one score is kept",
		SteadyState: []Metric{stockConsistency(mismatches)},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "lending-service",
				Execute: func(ctx context.Context) error {
					successes.Store(0)

					book, err := lender.CreateBook(ctx, "chaos return race")
					if err != nil {
						return fmt.Errorf("creating book: %w", err)
					}
					bookID.Store(book.ID)

					borrowed, err := lender.Borrow(ctx, cfg.FirstUserID, book.ID)
					if err != nil {
						return fmt.Errorf("borrowing book: %w", err)
					}
					if borrowed.Outcome != lending.OutcomeBorrowed {
						return fmt.Errorf("borrowing book: %s", borrowed.Outcome)
					}

					return race(cfg.Concurrency, func(i int) error {
						result, err := lender.Return(ctx, cfg.FirstUserID, book.ID, i%11)
						if err != nil {
							return err
						}
						if result.Outcome == lending.OutcomeReturned {
							successes.Add(1)
						}
						return nil
					})
				},
			},
		},
		Probes: []Metric{
			counter("return_successes", &successes),
			{
				Name: "book_ratings",
				Query: func(ctx context.Context) (float64, error) {
					result, err := lender.RateAverage(ctx, bookID.Load())
					if err != nil {
						return 0, err
					}
					return float64(result.Ratings), nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "return_successes",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Exactly one return should succeed",
			},
			{
				Metric:    "book_ratings",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "Exactly one score should be persisted",
			},
			{
				Metric:    "stock_mismatches",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Stock flags should agree with open loans",
			},
		},
	}
}

func counter(name string, n *atomic.Int64) Metric {
	return Metric{
		Name: name,
		Query: func(context.Context) (float64, error) {
			return float64(n.Load()), nil
		},
	}
}

// race starts n goroutines behind a common barrier and joins their errors.
func race(n int, attempt func(i int) error) error {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		errs  []error
		start = make(chan struct{})
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if err := attempt(i); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(i)
	}

	close(start)
	wg.Wait()
	return errors.Join(errs...)
}
