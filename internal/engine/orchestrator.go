// Package engine runs the configured detectors over a transaction set and
// aggregates their anomalies into a ranked, summarised result.
//
// The Orchestrator coordinates a complete analysis:
//  1. Record validation and filtering
//  2. Sequential or bounded-parallel detector execution
//  3. Merging and ranking of anomalies
//  4. Statistics and summary generation
//  5. Optional commentary enrichment
//
// Example usage:
//
//	detectors, _ := detector.Build(detector.DefaultConfigs(), detector.AllNames)
//	orchestrator := engine.NewOrchestrator(detectors, engine.WithParallelism(4))
//	result := orchestrator.Analyze(ctx, &engine.AnalysisRequest{Transactions: txs})
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"bank-fee-auditor/internal/detector"
	"bank-fee-auditor/internal/enrichment"
	"bank-fee-auditor/internal/metrics"
	"bank-fee-auditor/internal/models"
	"bank-fee-auditor/pkg/errors"
	"bank-fee-auditor/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Progress reports a finished detector
type Progress struct {
	Detector  detector.Name
	Completed int
	Total     int
	Anomalies int
}

// ProgressCallback is called after each detector. Returning false skips
// the detectors that have not started yet.
type ProgressCallback func(Progress) bool

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithParallelism runs up to n detectors concurrently; n <= 1 is sequential
func WithParallelism(n int) Option {
	return func(o *Orchestrator) {
		o.parallelism = n
	}
}

// WithProgressCallback registers a progress callback
func WithProgressCallback(cb ProgressCallback) Option {
	return func(o *Orchestrator) {
		o.progress = append(o.progress, cb)
	}
}

// WithCommentator enables commentary on the top anomalies, at or above
// minSeverity and at most limit of them
func WithCommentator(c enrichment.Commentator, minSeverity models.Severity, limit int) Option {
	return func(o *Orchestrator) {
		o.commentator = c
		o.commentMinSeverity = minSeverity
		o.commentLimit = limit
	}
}

// WithMetrics records runs in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracerProvider sets the provider of the run and detector spans
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		o.tracer = tp.Tracer("bank-fee-auditor/engine")
	}
}

// Orchestrator runs injected, already configured detectors
type Orchestrator struct {
	detectors   []detector.Detector
	parallelism int
	progress    []ProgressCallback

	commentator        enrichment.Commentator
	commentMinSeverity models.Severity
	commentLimit       int

	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  logger.Logger
}

// NewOrchestrator creates an orchestrator over detectors
func NewOrchestrator(detectors []detector.Detector, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		detectors:   detectors,
		parallelism: 1,
		tracer:      otel.Tracer("bank-fee-auditor/engine"),
		logger:      logger.GetGlobalLogger().WithComponent("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Analyze runs the analysis. It never returns nil: failures are reported
// through Status and Error with empty statistics and summary.
func (o *Orchestrator) Analyze(ctx context.Context, req *AnalysisRequest) (result *AnalysisResult) {
	startedAt := time.Now()
	result = &AnalysisResult{
		RunID:     uuid.NewString(),
		Status:    RunCompleted,
		Anomalies: []*models.Anomaly{},
		StartedAt: startedAt.UTC(),
	}

	ctx, span := o.tracer.Start(ctx, "Orchestrator.Analyze")
	span.SetAttributes(attribute.String("run.id", result.RunID))
	defer span.End()

	log := o.logger.WithField("run_id", result.RunID)
	op := logger.NewOperationLogger("analysis", log)

	defer func() {
		if r := recover(); r != nil {
			err := errors.AnalysisError(errors.CodeAnalysisAborted, "orchestration", fmt.Errorf("panic: %v", r))
			log.WithField("stack", string(debug.Stack())).Error("Analysis panicked")
			o.fail(result, err)
		}
		if result.Status == RunFailed {
			span.SetStatus(codes.Error, result.Error)
			op.Error(fmt.Errorf("%s", result.Error), "Analysis failed")
		} else {
			op.WithFields(logger.Fields{
				"status":    result.Status,
				"anomalies": len(result.Anomalies),
			}).Success("Analysis completed")
		}
		result.Duration = time.Since(startedAt)
		o.record(result)
	}()

	if err := req.Validate(); err != nil {
		o.fail(result, errors.AnalysisError(errors.CodeMalformedInput, "request validation", err))
		return result
	}

	selected, err := o.selectDetectors(req.Detectors)
	if err != nil {
		o.fail(result, errors.AnalysisError(errors.CodeMalformedInput, "detector selection", err))
		return result
	}

	op.Step("preprocess")
	prep := preprocess(req)
	result.Preprocess = prep.stats
	result.Warnings = prep.warnings
	for _, w := range prep.warnings {
		log.Warn(w)
	}

	input := &detector.Input{
		Transactions: prep.transactions,
		Conditions:   req.Conditions,
		Balances:     prep.balances,
		Ledger:       prep.ledger,
		Historical:   req.Historical,
		Period:       req.Filter.Period(),
	}

	op.Step("detect")
	outputs, runs, cancelled := o.runDetectors(ctx, selected, input)
	result.Detectors = runs
	if cancelled {
		result.Status = RunCancelled
	}

	for _, out := range outputs {
		result.Anomalies = append(result.Anomalies, out...)
	}
	RankAnomalies(result.Anomalies)

	result.Statistics = ComputeStatistics(result.Anomalies, prep.stats.TotalTransactions, len(prep.transactions))
	result.Summary = BuildSummary(result.Anomalies, result.Statistics)

	if o.commentator != nil && len(result.Anomalies) > 0 {
		op.Step("enrich")
		result.Commentary = o.enrich(ctx, result.Anomalies, log)
	}

	span.SetAttributes(
		attribute.Int("anomalies", len(result.Anomalies)),
		attribute.String("summary.status", string(result.Summary.Status)),
	)
	return result
}

// fail resets result to an empty failed result carrying err
func (o *Orchestrator) fail(result *AnalysisResult, err error) {
	result.Status = RunFailed
	result.Error = err.Error()
	result.Anomalies = []*models.Anomaly{}
	result.Statistics = newStatistics()
	result.Summary = emptySummary(err.Error())
	result.Commentary = nil
}

func (o *Orchestrator) selectDetectors(names []detector.Name) ([]detector.Detector, error) {
	if len(names) == 0 {
		return o.detectors, nil
	}

	var selected []detector.Detector
	for _, name := range names {
		found := false
		for _, d := range o.detectors {
			if d.Name() == name {
				selected = append(selected, d)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("detector %q is not configured", name)
		}
	}
	return selected, nil
}

// runDetectors runs detectors sequentially or with bounded parallelism and
// returns their outputs in detector order. The boolean is true when some
// detectors were skipped by a progress callback or a cancelled context.
func (o *Orchestrator) runDetectors(ctx context.Context, detectors []detector.Detector, input *detector.Input) ([][]*models.Anomaly, []DetectorRun, bool) {
	outputs := make([][]*models.Anomaly, len(detectors))
	runs := make([]DetectorRun, len(detectors))
	for i, d := range detectors {
		runs[i] = DetectorRun{Name: d.Name(), Skipped: true}
	}

	var (
		mu        sync.Mutex
		completed int
		stop      bool
	)

	// proceed reports whether another detector may start
	proceed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !stop && ctx.Err() == nil
	}

	finish := func(i int, run DetectorRun, anomalies []*models.Anomaly) {
		mu.Lock()
		defer mu.Unlock()
		outputs[i] = anomalies
		runs[i] = run
		completed++
		progress := Progress{Detector: run.Name, Completed: completed, Total: len(detectors), Anomalies: len(anomalies)}
		for _, cb := range o.progress {
			if !cb(progress) {
				stop = true
			}
		}
	}

	if o.parallelism <= 1 {
		for i, d := range detectors {
			if !proceed() {
				break
			}
			run, anomalies := o.runDetector(ctx, d, input)
			finish(i, run, anomalies)
		}
	} else {
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(o.parallelism)
		for i, d := range detectors {
			i, d := i, d
			g.Go(func() error {
				if !proceed() || gCtx.Err() != nil {
					return nil
				}
				run, anomalies := o.runDetector(gCtx, d, input)
				finish(i, run, anomalies)
				return nil
			})
		}
		_ = g.Wait()
	}

	skipped := false
	for _, run := range runs {
		if run.Skipped {
			skipped = true
		}
	}
	return outputs, runs, skipped
}

// runDetector runs one detector inside a span and a recover guard. A
// panicking detector contributes no anomaly and does not fail the run.
func (o *Orchestrator) runDetector(ctx context.Context, d detector.Detector, input *detector.Input) (run DetectorRun, anomalies []*models.Anomaly) {
	name := d.Name()
	run = DetectorRun{Name: name}

	_, span := o.tracer.Start(ctx, "Detector."+string(name))
	span.SetAttributes(attribute.String("detector", string(name)))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err := errors.AnalysisError(errors.CodeDetectorFailed, string(name), fmt.Errorf("panic: %v", r))
			o.logger.WithError(err).WithField("detector", name).Error("Detector panicked")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if o.metrics != nil {
				o.metrics.IncrDetectorPanic(string(name))
			}
			run.Error = err.Error()
			anomalies = nil
		}
		run.Duration = time.Since(start)
		run.Anomalies = len(anomalies)
		span.SetAttributes(attribute.Int("anomalies", run.Anomalies))
		span.End()
		if o.metrics != nil {
			o.metrics.RecordDetector(string(name), run.Duration)
		}
	}()

	anomalies = d.Detect(input)
	o.logger.WithFields(logger.Fields{
		"detector":  name,
		"anomalies": len(anomalies),
	}).Debug("Detector finished")
	return run, anomalies
}

// enrich requests commentary for the top anomalies. Failures are logged
// and leave the anomaly without commentary.
func (o *Orchestrator) enrich(ctx context.Context, ranked []*models.Anomaly, log logger.Logger) map[string]string {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.Enrich")
	defer span.End()

	commentary := make(map[string]string)
	for _, a := range ranked {
		if o.commentLimit > 0 && len(commentary) >= o.commentLimit {
			break
		}
		if a.Severity.Rank() < o.commentMinSeverity.Rank() {
			// ranked by severity first
			break
		}

		text, err := o.comment(ctx, a)
		if err != nil {
			log.WithError(err).WithField("anomaly_id", a.ID).Warn("Commentary unavailable")
			if o.metrics != nil {
				o.metrics.IncrEnrichment("failure")
			}
			continue
		}
		commentary[a.ID] = text
		if o.metrics != nil {
			o.metrics.IncrEnrichment("success")
		}
	}
	return commentary
}

// comment calls the commentator, turning a panic into an enrichment error
func (o *Orchestrator) comment(ctx context.Context, a *models.Anomaly) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.EnrichmentError(errors.CodeEnrichmentUnavailable, "commentator", fmt.Errorf("panic: %v", r))
			text = ""
		}
	}()
	return o.commentator.Comment(ctx, a)
}

func (o *Orchestrator) record(result *AnalysisResult) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordRun(string(result.Status), result.Duration)
	o.metrics.AddRejected("transaction", result.Preprocess.InvalidTransactions)
	o.metrics.AddRejected("duplicate_transaction", result.Preprocess.DuplicateIDs)
	o.metrics.AddRejected("balance", result.Preprocess.InvalidBalances)
	o.metrics.AddRejected("ledger_entry", result.Preprocess.InvalidLedgerEntries)
	if result.Status != RunFailed {
		o.metrics.AddTransactions(result.Statistics.AnalyzedTransactions)
		o.metrics.RecordAnomalies(result.Anomalies)
		o.metrics.SetPotentialRecovery(result.Statistics.PotentialRecovery)
	}
}
