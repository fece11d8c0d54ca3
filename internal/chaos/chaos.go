// internal/chaos/chaos.go
package chaos

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrSteadyStateInvalid = errors.New("steady state invalid - aborting experiment")

// Experiment defines a chaos engineering test
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Method      []Action
	Rollback    []Action
	// Probes are measured once after the method ran.
	Probes     []Metric
	Validation []Assertion
	// Duration is how long steady-state metrics are sampled after the method.
	// Zero takes a single sample.
	Duration time.Duration
}

// Metric defines a measurable system property
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Action represents a fault injection, load or recovery action
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion validates experiment outcome against the last observation of Metric
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

// ExperimentResult captures experiment execution data
type ExperimentResult struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []MetricViolation      `json:"violations"`
	FailedAssertions []string               `json:"failed_assertions"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for game day reports.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracerProvider sets where experiment spans are exported.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = provider.Tracer("libraledger/chaos")
	}
}

// WithSampleInterval sets how often steady-state metrics are sampled during observation.
func WithSampleInterval(interval time.Duration) Option {
	return func(e *Engine) {
		e.sampleInterval = interval
	}
}

// Engine orchestrates chaos experiments
type Engine struct {
	tracer         trace.Tracer
	logger         *slog.Logger
	sampleInterval time.Duration

	mu          sync.Mutex
	experiments []Experiment
	results     []ExperimentResult
}

func NewEngine(options ...Option) *Engine {
	e := &Engine{
		tracer:         otel.Tracer("libraledger/chaos"),
		logger:         slog.Default(),
		sampleInterval: time.Second,
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// RegisterExperiment adds an experiment to the test suite
func (e *Engine) RegisterExperiment(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

// Experiments returns the registered experiments.
func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

// Results returns the results of every experiment run so far.
func (e *Engine) Results() []ExperimentResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ExperimentResult(nil), e.results...)
}

// RunExperiment executes a single chaos experiment
func (e *Engine) RunExperiment(ctx context.Context, exp Experiment) (*ExperimentResult, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(
			attribute.String("experiment.name", exp.Name),
		),
	)
	defer span.End()

	result := &ExperimentResult{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
		ErrorEvents:    make([]ErrorEvent, 0),
	}

	// Phase 1: Validate steady state
	span.AddEvent("validating_steady_state")
	if valid, violations := e.validateSteadyState(ctx, exp.SteadyState); !valid {
		result.Violations = violations
		span.SetStatus(codes.Error, ErrSteadyStateInvalid.Error())
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	// Phase 2: Inject chaos
	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.recordError(action.Target, err)
			span.RecordError(err)
		}
	}

	// Phase 3: Observe system behavior
	span.AddEvent("observing_system")
	for _, probe := range exp.Probes {
		e.sample(ctx, probe, result, nil)
	}
	e.observe(ctx, exp, result)

	// Phase 4: Rollback chaos injection
	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			result.recordError(action.Target, err)
			span.RecordError(err)
		}
	}

	// Phase 5: Validate assertions
	span.AddEvent("validating_assertions")
	result.FailedAssertions = validateAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)

	return result, nil
}

func (e *Engine) observe(ctx context.Context, exp Experiment, result *ExperimentResult) {
	var recovery recoveryClock
	sampleAll := func() {
		for _, metric := range exp.SteadyState {
			e.sample(ctx, metric, result, &recovery)
		}
	}

	sampleAll()
	if exp.Duration <= 0 {
		return
	}

	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	ticker := time.NewTicker(e.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-observationCtx.Done():
			return
		case <-ticker.C:
			sampleAll()
		}
	}
}

// recoveryClock tracks the first threshold violation until the metric is back in range.
type recoveryClock struct {
	start     time.Time
	recovered bool
}

func (e *Engine) sample(ctx context.Context, metric Metric, result *ExperimentResult, recovery *recoveryClock) {
	value, err := metric.Query(ctx)
	if err != nil {
		result.recordError(metric.Name, err)
		return
	}

	now := time.Now()
	result.Observations[metric.Name] = append(result.Observations[metric.Name], DataPoint{Timestamp: now, Value: value})

	if recovery == nil {
		return
	}
	if !evaluateThreshold(value, metric.Threshold) {
		if recovery.start.IsZero() {
			recovery.start = now
		}
		result.Violations = append(result.Violations, MetricViolation{
			MetricName: metric.Name,
			Expected:   metric.Threshold.Value,
			Actual:     value,
			Timestamp:  now,
		})
	} else if !recovery.start.IsZero() && !recovery.recovered {
		mttr := now.Sub(recovery.start)
		result.MTTR = &mttr
		recovery.recovered = true
	}
}

func (e *Engine) validateSteadyState(ctx context.Context, metrics []Metric) (bool, []MetricViolation) {
	violations := make([]MetricViolation, 0)

	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     -1,
				Timestamp:  time.Now(),
			})
			continue
		}

		if !evaluateThreshold(value, metric.Threshold) {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     value,
				Timestamp:  time.Now(),
			})
		}
	}

	return len(violations) == 0, violations
}

func evaluateThreshold(value float64, threshold Threshold) bool {
	switch threshold.Operator {
	case ">":
		return value > threshold.Value
	case "<":
		return value < threshold.Value
	case ">=":
		return value >= threshold.Value
	case "<=":
		return value <= threshold.Value
	case "==":
		return value == threshold.Value
	default:
		return false
	}
}

// validateAssertions returns the messages of the assertions that did not hold.
func validateAssertions(assertions []Assertion, result *ExperimentResult) []string {
	var failed []string
	for _, assertion := range assertions {
		observations := result.Observations[assertion.Metric]
		if len(observations) == 0 || !assertion.Condition(observations[len(observations)-1].Value) {
			failed = append(failed, assertion.Message)
		}
	}
	return failed
}

func (r *ExperimentResult) recordError(component string, err error) {
	r.ErrorEvents = append(r.ErrorEvents, ErrorEvent{
		Timestamp: time.Now(),
		Error:     err.Error(),
		Component: component,
	})
}

// GameDay orchestrates a series of chaos experiments.
type GameDay struct {
	Name      string
	Date      time.Time
	Scenarios []Experiment
	// Pause is the wait between scenarios.
	Pause time.Duration
}

// ExecuteGameDay runs every scenario and reports whether all hypotheses held.
func (e *Engine) ExecuteGameDay(ctx context.Context, gameDay GameDay) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(
			attribute.String("gameday.name", gameDay.Name),
		),
	)
	defer span.End()

	e.logger.InfoContext(ctx, "starting game day", "name", gameDay.Name, "date", gameDay.Date, "scenarios", len(gameDay.Scenarios))

	allHeld := true
	for i, scenario := range gameDay.Scenarios {
		e.logger.InfoContext(ctx, "running experiment",
			"index", i+1, "of", len(gameDay.Scenarios), "name", scenario.Name, "hypothesis", scenario.Hypothesis)

		result, err := e.RunExperiment(ctx, scenario)
		if err != nil {
			allHeld = false
			e.logger.ErrorContext(ctx, "experiment failed", "name", scenario.Name, "error", err)
		} else {
			allHeld = allHeld && result.HypothesisHeld
			e.report(ctx, result)
		}

		if i < len(gameDay.Scenarios)-1 && gameDay.Pause > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(gameDay.Pause):
			}
		}
	}

	span.SetAttributes(attribute.Bool("hypotheses_held", allHeld))
	return allHeld, nil
}

func (e *Engine) report(ctx context.Context, result *ExperimentResult) {
	attrs := []any{
		"name", result.ExperimentName,
		"hypothesis_held", result.HypothesisHeld,
		"violations", len(result.Violations),
		"errors", len(result.ErrorEvents),
		"duration", result.Duration,
	}
	if result.MTTR != nil {
		attrs = append(attrs, "mttr", *result.MTTR)
	}

	if result.HypothesisHeld {
		e.logger.InfoContext(ctx, "hypothesis held", attrs...)
		return
	}
	e.logger.WarnContext(ctx, "hypothesis violated", append(attrs, "failed_assertions", result.FailedAssertions)...)
	for _, v := range result.Violations {
		e.logger.WarnContext(ctx, "metric violation", "metric", v.MetricName, "expected", v.Expected, "actual", v.Actual)
	}
}
