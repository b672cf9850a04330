// Package learning turns failed patch results into persisted knowledge.
//
// For every failed operation a Recorder classifies the failure, builds an
// error report and a remediation plan, and merges an observation plus the
// best suggested operation into the registry. Messages are scrubbed of
// secrets before anything is written. Reports can additionally be saved as
// timestamped JSON files for later review.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/patchd/internal/logging"
	"github.com/fyrsmithlabs/patchd/internal/plan"
	"github.com/fyrsmithlabs/patchd/internal/registry"
	"github.com/fyrsmithlabs/patchd/internal/remediation"
	"github.com/fyrsmithlabs/patchd/internal/sanitize"
	"github.com/fyrsmithlabs/patchd/internal/secrets"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/patchd/internal/learning"

// reportTimeFormat prefixes report file names so they sort by time.
const reportTimeFormat = "20060102T150405Z"

// Report is the learning record of one plan execution.
type Report struct {
	ID           string                        `json:"id"`
	PlanID       string                        `json:"planId"`
	TaskID       string                        `json:"taskId,omitempty"`
	Status       plan.Outcome                  `json:"status"`
	Summary      plan.Summary                  `json:"summary"`
	Errors       []remediation.ErrorReport     `json:"errors"`
	Remediations []remediation.RemediationPlan `json:"remediations"`
	GeneratedAt  time.Time                     `json:"generatedAt"`
}

// Empty reports whether the execution had no failures.
func (r *Report) Empty() bool {
	return len(r.Errors) == 0
}

// Recorder feeds failures back into the registry.
type Recorder struct {
	store    registry.Store
	planner  *remediation.Planner
	scrubber *secrets.Scrubber
	logger   *zap.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	failuresCounter metric.Int64Counter
}

// NewRecorder creates a recorder. A nil store disables registry updates;
// a nil scrubber uses the default rules.
func NewRecorder(store registry.Store, planner *remediation.Planner, scrubber *secrets.Scrubber, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if planner == nil {
		planner = remediation.NewPlanner(nil, logger)
	}
	if scrubber == nil {
		scrubber = secrets.Default()
	}
	r := &Recorder{
		store:    store,
		planner:  planner,
		scrubber: scrubber,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}
	r.initMetrics()
	return r
}

func (r *Recorder) initMetrics() {
	var err error
	r.failuresCounter, err = r.meter.Int64Counter(
		"patchd.learning.failures_recorded_total",
		metric.WithDescription("Total number of failed operations recorded in the registry"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		r.logger.Warn("failed to create failures counter", zap.Error(err))
	}
}

// Record builds reports and remediation plans for every failed result and
// merges them into the registry. The returned report is complete even when
// the registry update fails; the error says why it was not persisted.
func (r *Recorder) Record(ctx context.Context, p *plan.PatchPlan, env *plan.TaskEnvelope, res *plan.PatchPlanResult) (*Report, error) {
	ctx, span := r.tracer.Start(ctx, "learning.record")
	defer span.End()

	var taskID string
	if env != nil {
		taskID = env.ID
	}
	report := &Report{
		ID:           uuid.NewString(),
		PlanID:       res.PlanID,
		TaskID:       taskID,
		Status:       res.Status,
		Summary:      res.Summary,
		Errors:       []remediation.ErrorReport{},
		Remediations: []remediation.RemediationPlan{},
		GeneratedAt:  time.Now().UTC(),
	}

	ops := indexOperations(p)
	for _, failed := range res.Failed() {
		op := ops[failed.OperationID]
		er := remediation.NewReport(failed, op, taskID)
		er.Message = r.scrubber.String(er.Message)
		er.Details.Anchor = r.scrubber.String(er.Details.Anchor)
		er.Details.SearchPattern = r.scrubber.String(er.Details.SearchPattern)

		rp := r.planner.Plan(ctx, er, op)
		report.Errors = append(report.Errors, *er)
		report.Remediations = append(report.Remediations, *rp)
	}

	span.SetAttributes(attribute.Int("failures", len(report.Errors)))
	if report.Empty() || r.store == nil {
		return report, nil
	}

	_, err := r.store.Update(ctx, func(reg *registry.Registry) error {
		for i, er := range report.Errors {
			reg.Merge(observation(er, report.Remediations[i]))
			if best, ok := report.Remediations[i].Best(); ok {
				reg.AddSuggestedOp(best.Operation)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("failed to update registry", append(logging.ContextFields(ctx), zap.Error(err))...)
		return report, fmt.Errorf("failed to update registry: %w", err)
	}

	if r.failuresCounter != nil {
		r.failuresCounter.Add(ctx, int64(len(report.Errors)))
	}
	r.logger.Info("failures recorded",
		append(logging.ContextFields(ctx),
			zap.String("report_id", report.ID),
			zap.Int("failures", len(report.Errors)),
		)...,
	)
	return report, nil
}

// observation derives the registry entry for one failure. Anchors the
// failed operation tried and anchors proposed by its remediation are kept
// so a caller can avoid repeating them.
func observation(er remediation.ErrorReport, rp remediation.RemediationPlan) registry.Observation {
	obs := registry.Observation{
		FilePath:       er.FilePath,
		Classification: er.Classification,
		Message:        er.Message,
		FirstSeen:      er.Timestamp,
		LastSeen:       er.Timestamp,
	}
	if er.Details.Anchor != "" {
		obs.TriedAnchors = append(obs.TriedAnchors, er.Details.Anchor)
	}
	for _, s := range rp.Suggestions {
		if a, ok := s.Operation.(*plan.Anchor); ok && a.Anchor != "" {
			obs.Candidates = append(obs.Candidates, a.Anchor)
		}
	}
	return obs
}

func indexOperations(p *plan.PatchPlan) map[string]plan.Operation {
	out := map[string]plan.Operation{}
	if p == nil {
		return out
	}
	for _, op := range p.Operations {
		if op == nil {
			continue
		}
		if id := op.Common().ID; id != "" {
			if _, dup := out[id]; !dup {
				out[id] = op
			}
		}
	}
	return out
}

// WriteReport saves report as <time>-<plan>.json under dir and returns the
// file path.
func WriteReport(report *Report, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create reports directory %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s-%s.json", report.GeneratedAt.UTC().Format(reportTimeFormat), sanitize.Identifier(report.PlanID))
	path, err := sanitize.ValidatePath(filepath.Join(dir, name), dir)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
