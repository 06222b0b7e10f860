package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/fiskal-io/regstream/internal/classify"
)

// Outcome is the aggregate of one evidence run across all routed extractors.
type Outcome struct {
	Classification *classify.Result
	Results        []Result
	ClaimIDs       []uuid.UUID // created claims only, feeds composition
	Errors         []ExtractorError
}

// ExtractorError records one extractor's failure without aborting the others.
type ExtractorError struct {
	Extractor string
	Err       error
}

func (e *ExtractorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Extractor, e.Err)
}

func (e *ExtractorError) Unwrap() error { return e.Err }

// Created returns the total number of records created across extractors.
func (o *Outcome) Created() int {
	n := 0
	for _, r := range o.Results {
		n += len(r.CreatedIDs)
	}
	return n
}

// Failed reports whether the run as a whole should count as failed: nothing
// was created and at least one extractor errored.
func (o *Outcome) Failed() bool {
	return o.Created() == 0 && len(o.Errors) > 0
}

// SchemaOnly reports whether every failure in the run was the LLM producing
// output that failed shape-schema validation. Such runs will not improve by
// refetching; callers use this to fail the job without retrying it.
func (o *Outcome) SchemaOnly() bool {
	if len(o.Errors) == 0 {
		return false
	}
	for i := range o.Errors {
		var se *SchemaError
		if !errors.As(o.Errors[i].Err, &se) {
			return false
		}
	}
	return true
}

// Err folds extractor failures into one error when the run failed.
func (o *Outcome) Err() error {
	if !o.Failed() {
		return nil
	}
	errs := make([]error, 0, len(o.Errors))
	for i := range o.Errors {
		errs = append(errs, &o.Errors[i])
	}
	return fmt.Errorf("extract: all extractors failed: %w", errors.Join(errs...))
}

// Orchestrator classifies one evidence snapshot and runs every routed
// extractor sequentially. One extractor failing (error or panic) does not
// stop the rest.
type Orchestrator struct {
	classifier *classify.Classifier
	registry   map[string]Extractor
	store      EvidenceStore
	log        *slog.Logger
}

// NewOrchestrator builds the orchestrator over a full extractor set.
func NewOrchestrator(classifier *classify.Classifier, store EvidenceStore, log *slog.Logger, extractors ...Extractor) *Orchestrator {
	registry := make(map[string]Extractor, len(extractors))
	for _, ex := range extractors {
		registry[ex.Name()] = ex
	}
	return &Orchestrator{classifier: classifier, registry: registry, store: store, log: log}
}

// Run classifies the evidence and fans out to the suggested extractors.
func (o *Orchestrator) Run(ctx context.Context, evidenceID uuid.UUID) (*Outcome, error) {
	ev, text, err := loadEvidence(ctx, o.store, evidenceID)
	if err != nil {
		return nil, err
	}

	cls, err := o.classifier.Classify(ctx, text, ev.URL, ev.ContentType)
	if err != nil {
		return nil, fmt.Errorf("extract: classify evidence %s: %w", evidenceID, err)
	}
	o.log.Info("evidence classified",
		"evidence_id", evidenceID,
		"primary_type", cls.PrimaryType,
		"confidence", cls.Confidence,
		"extractors", cls.SuggestedExtractors)

	outcome := &Outcome{Classification: cls}
	for _, name := range cls.SuggestedExtractors {
		ex, ok := o.registry[name]
		if !ok {
			outcome.Errors = append(outcome.Errors, ExtractorError{
				Extractor: name,
				Err:       fmt.Errorf("extractor %q not registered", name),
			})
			continue
		}

		res, err := o.runOne(ctx, ex, evidenceID)
		if err != nil {
			o.log.Warn("extractor failed",
				"evidence_id", evidenceID, "extractor", name, "error", err)
			outcome.Errors = append(outcome.Errors, ExtractorError{Extractor: name, Err: err})
			continue
		}

		outcome.Results = append(outcome.Results, *res)
		if name == classify.ExtractorClaim && !res.Reused {
			outcome.ClaimIDs = append(outcome.ClaimIDs, res.CreatedIDs...)
		}
	}
	return outcome, nil
}

// runOne isolates a single extractor call so a panic in one shape cannot
// take down the whole evidence run.
func (o *Orchestrator) runOne(ctx context.Context, ex Extractor, evidenceID uuid.UUID) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("extractor panicked",
				"extractor", ex.Name(), "evidence_id", evidenceID,
				"panic", r, "stack", string(debug.Stack()))
			res = nil
			err = fmt.Errorf("extractor %s panicked: %v", ex.Name(), r)
		}
	}()
	return ex.Extract(ctx, evidenceID)
}
