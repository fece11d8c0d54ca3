package chaos_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"libraledger/internal/catalog"
	"libraledger/internal/chaos"
	"libraledger/internal/db"
	"libraledger/internal/inventory"
	"libraledger/internal/ledger"
	"libraledger/internal/lending"
	"libraledger/internal/scoring"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newLender(t *testing.T) (lending.Service, chaos.MismatchCounter) {
	t.Helper()
	client := db.NewTestClient(t)
	guard := inventory.NewGuard(client)
	svc, err := lending.NewService(
		catalog.NewService(client),
		guard,
		ledger.New(client),
		scoring.NewAggregator(client),
		lending.WithLogger(discard),
	)
	require.NoError(t, err)
	return svc, guard.Mismatches
}

func constant(name string, value float64, op string, threshold float64) chaos.Metric {
	return chaos.Metric{
		Name:      name,
		Query:     func(context.Context) (float64, error) { return value, nil },
		Threshold: chaos.Threshold{Operator: op, Value: threshold},
	}
}

func TestConcurrentBorrowRaceHolds(t *testing.T) {
	lender, mismatches := newLender(t)
	engine := chaos.NewEngine(chaos.WithLogger(discard))

	result, err := engine.RunExperiment(context.Background(),
		chaos.ConcurrentBorrowRace(lender, mismatches, chaos.RaceConfig{Concurrency: 20, FirstUserID: 1}))

	require.NoError(t, err)
	assert.True(t, result.SteadyStateValid)
	assert.True(t, result.HypothesisHeld, result.FailedAssertions)
	assert.Empty(t, result.ErrorEvents)
	assert.Equal(t, 1.0, result.Observations["borrow_successes"][0].Value)
	assert.Equal(t, 19.0, result.Observations["borrow_rejections"][0].Value)
}

func TestConcurrentReturnRaceHolds(t *testing.T) {
	lender, mismatches := newLender(t)
	engine := chaos.NewEngine(chaos.WithLogger(discard))

	result, err := engine.RunExperiment(context.Background(),
		chaos.ConcurrentReturnRace(lender, mismatches, chaos.RaceConfig{Concurrency: 20, FirstUserID: 1}))

	require.NoError(t, err)
	assert.True(t, result.HypothesisHeld, result.FailedAssertions)
	assert.Equal(t, 1.0, result.Observations["return_successes"][0].Value)
	assert.Equal(t, 1.0, result.Observations["book_ratings"][0].Value)
}

func TestGameDayRunsRegisteredExperiments(t *testing.T) {
	lender, mismatches := newLender(t)
	engine := chaos.NewEngine(chaos.WithLogger(discard))
	engine.RegisterExperiments(lender, mismatches, chaos.RaceConfig{Concurrency: 10, FirstUserID: 100})

	held, err := engine.ExecuteGameDay(context.Background(), chaos.GameDay{
		Name:      "test",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
	})

	require.NoError(t, err)
	assert.True(t, held)
	assert.Len(t, engine.Results(), 2)
}

func TestInvalidSteadyStateAborts(t *testing.T) {
	var executed bool
	engine := chaos.NewEngine(chaos.WithLogger(discard))

	result, err := engine.RunExperiment(context.Background(), chaos.Experiment{
		Name:        "broken",
		SteadyState: []chaos.Metric{constant("stock_mismatches", 3, "==", 0)},
		Method: []chaos.Action{{Execute: func(context.Context) error {
			executed = true
			return nil
		}}},
	})

	require.ErrorIs(t, err, chaos.ErrSteadyStateInvalid)
	assert.False(t, result.SteadyStateValid)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, 3.0, result.Violations[0].Actual)
	assert.False(t, executed)
	assert.Empty(t, engine.Results())
}

func TestFailedAssertionsAndActionErrors(t *testing.T) {
	engine := chaos.NewEngine(chaos.WithLogger(discard))
	var rolledBack bool

	result, err := engine.RunExperiment(context.Background(), chaos.Experiment{
		Name:        "failing",
		SteadyState: []chaos.Metric{constant("latency", 5, "<", 10)},
		Method: []chaos.Action{{Target: "store", Execute: func(context.Context) error {
			return errors.New("injected")
		}}},
		Rollback: []chaos.Action{{Execute: func(context.Context) error {
			rolledBack = true
			return nil
		}}},
		Validation: []chaos.Assertion{
			{Metric: "latency", Condition: func(v float64) bool { return v > 100 }, Message: "too fast"},
			{Metric: "missing", Condition: func(float64) bool { return true }, Message: "never observed"},
		},
	})

	require.NoError(t, err)
	assert.True(t, rolledBack)
	assert.False(t, result.HypothesisHeld)
	assert.Equal(t, []string{"too fast", "never observed"}, result.FailedAssertions)
	require.Len(t, result.ErrorEvents, 1)
	assert.Equal(t, "store", result.ErrorEvents[0].Component)
}

func TestObservationRecordsRecovery(t *testing.T) {
	engine := chaos.NewEngine(chaos.WithLogger(discard), chaos.WithSampleInterval(5*time.Millisecond))
	var calls atomic.Int64

	result, err := engine.RunExperiment(context.Background(), chaos.Experiment{
		Name: "recovering",
		SteadyState: []chaos.Metric{{
			Name: "errors",
			Query: func(context.Context) (float64, error) {
				// healthy for the steady-state check, then two bad samples
				switch calls.Add(1) {
				case 2, 3:
					return 10, nil
				default:
					return 0, nil
				}
			},
			Threshold: chaos.Threshold{Operator: "<=", Value: 0},
		}},
		Duration: 100 * time.Millisecond,
	})

	require.NoError(t, err)
	assert.Len(t, result.Violations, 2)
	require.NotNil(t, result.MTTR)
	assert.Positive(t, *result.MTTR)
	assert.Greater(t, len(result.Observations["errors"]), 3)
}

func TestRunExperimentSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	engine := chaos.NewEngine(chaos.WithLogger(discard), chaos.WithTracerProvider(provider))

	_, err := engine.RunExperiment(context.Background(), chaos.Experiment{Name: "empty"})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "chaos.run_experiment", spans[0].Name())

	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "empty", attrs["experiment.name"])
	assert.Equal(t, true, attrs["hypothesis_held"])
}
