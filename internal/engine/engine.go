// Package engine applies patch plans.
//
// Operations run sequentially in plan order. Each one is checked against
// the task envelope, dispatched to the strategy matching its type, and
// reported as a PatchResult. No error escapes Execute: every path ends in
// a classified result.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyrsmithlabs/patchd/internal/classify"
	"github.com/fyrsmithlabs/patchd/internal/logging"
	"github.com/fyrsmithlabs/patchd/internal/plan"
	"github.com/fyrsmithlabs/patchd/internal/security"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/patchd/internal/engine"

// Result messages.
const (
	MsgFileNotExist     = "file does not exist"
	MsgNoChanges        = "resulted in no changes"
	MsgStrategiesFailed = "all patch strategies failed"
	MsgSkippedAfterFail = "skipped after earlier failure"
	msgSecurityError    = "security error"
)

// RunOptions controls a single Execute call.
type RunOptions struct {
	// DryRun computes results and diffs without writing files.
	DryRun bool

	// BaseDir is the directory relative operation paths resolve against.
	// Empty means the working directory.
	BaseDir string
}

// Engine executes patch plans.
type Engine struct {
	logger *zap.Logger

	tracer    trace.Tracer
	meter     metric.Meter
	opCounter metric.Int64Counter
	opLatency metric.Float64Histogram

	// detectSecrets is swapped in tests.
	detectSecrets func(string) ([]security.SecretFinding, error)
}

// New creates an engine.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		logger:        logger,
		tracer:        otel.Tracer(instrumentationName),
		meter:         otel.Meter(instrumentationName),
		detectSecrets: security.DetectSecrets,
	}
	e.initMetrics()
	return e
}

func (e *Engine) initMetrics() {
	var err error
	e.opCounter, err = e.meter.Int64Counter(
		"patchd.engine.operations_total",
		metric.WithDescription("Total number of patch operations executed"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		e.logger.Warn("failed to create operations counter", zap.Error(err))
	}
	e.opLatency, err = e.meter.Float64Histogram(
		"patchd.engine.operation_duration_ms",
		metric.WithDescription("Time spent applying a single operation"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		e.logger.Warn("failed to create operation duration histogram", zap.Error(err))
	}
}

// Execute applies p under env. env is expected to be hardened; a nil env
// is replaced by the conservative default. Execution is not interrupted by
// ctx cancellation.
func (e *Engine) Execute(ctx context.Context, p *plan.PatchPlan, env *plan.TaskEnvelope, opts RunOptions) *plan.PatchPlanResult {
	start := time.Now()
	if env == nil {
		env = security.Conservative(opts.BaseDir, p)
	}
	ctx = logging.WithPlanID(logging.WithTaskID(ctx, env.ID), p.ID)

	ctx, span := e.tracer.Start(ctx, "engine.execute", trace.WithAttributes(
		attribute.String("plan.id", p.ID),
		attribute.String("task.id", env.ID),
		attribute.Int("operations", len(p.Operations)),
		attribute.Bool("dry_run", opts.DryRun),
	))
	defer span.End()

	run := &run{
		engine:  e,
		guard:   security.NewGuard(env.Scope, opts.BaseDir),
		options: env.Options,
		dryRun:  opts.DryRun,
		backups: map[string]bool{},
	}

	results := make([]plan.PatchResult, 0, len(p.Operations))
	halted := false
	for _, op := range p.Operations {
		if halted {
			results = append(results, skippedAfterFailure(op))
			continue
		}
		res := run.apply(ctx, op)
		results = append(results, res)
		e.record(ctx, res)
		if res.Status == plan.OutcomeFailure && !env.Options.ContinueOnError {
			halted = true
		}
	}

	out := plan.Aggregate(p.ID, results, time.Since(start))
	span.SetAttributes(attribute.String("status", string(out.Status)))
	if out.Status != plan.OutcomeSuccess {
		span.SetStatus(codes.Error, string(out.Status))
	}
	e.logger.Info("plan executed",
		append(logging.ContextFields(ctx),
			zap.String("status", string(out.Status)),
			zap.Int("succeeded", out.Summary.Succeeded),
			zap.Int("failed", out.Summary.Failed),
			zap.Int("skipped", out.Summary.Skipped),
			zap.Bool("dry_run", opts.DryRun),
			zap.Int64("total_ms", out.TotalTimeMs),
		)...,
	)
	return out
}

func (e *Engine) record(ctx context.Context, res plan.PatchResult) {
	attrs := metric.WithAttributes(
		attribute.String("type", string(res.Kind)),
		attribute.String("status", string(res.Status)),
	)
	if e.opCounter != nil {
		e.opCounter.Add(ctx, 1, attrs)
	}
	if e.opLatency != nil {
		e.opLatency.Record(ctx, float64(res.ExecutionTimeMs), attrs)
	}
}

// run holds the state of one Execute call.
type run struct {
	engine  *Engine
	guard   *security.Guard
	options plan.Options
	dryRun  bool
	backups map[string]bool
}

func (r *run) apply(ctx context.Context, op plan.Operation) plan.PatchResult {
	start := time.Now()
	if op == nil {
		return plan.PatchResult{
			Status:         plan.OutcomeFailure,
			Classification: classify.Unknown,
			Error:          "operation is null",
		}
	}
	base := op.Common()
	res := plan.PatchResult{
		OperationID: base.ID,
		FilePath:    base.FilePath,
		Kind:        op.Kind(),
		Strategy:    base.Strategy,
	}

	ctx, span := r.engine.tracer.Start(ctx, "engine.apply", trace.WithAttributes(
		attribute.String("operation.id", base.ID),
		attribute.String("operation.type", string(op.Kind())),
	))
	defer span.End()

	r.execute(op, &res)

	res.ExecutionTimeMs = time.Since(start).Milliseconds()
	if res.Status != plan.OutcomeSuccess && res.Classification == "" {
		res.Classification = classify.Classify(res.Error)
	}
	span.SetAttributes(attribute.String("status", string(res.Status)))
	if res.Status == plan.OutcomeFailure {
		span.SetStatus(codes.Error, res.Error)
	}

	log := r.engine.logger.Debug
	if res.Status == plan.OutcomeFailure {
		log = r.engine.logger.Warn
	}
	log("operation applied", append(logging.ContextFields(ctx),
		zap.String("operation_id", base.ID),
		zap.String("file", base.FilePath),
		zap.String("status", string(res.Status)),
		zap.String("classification", string(res.Classification)),
		zap.String("error", res.Error),
	)...)
	return res
}

// execute fills res. Steps run in a fixed order: scope, validation, read,
// dispatch, no-op detection, write.
func (r *run) execute(op plan.Operation, res *plan.PatchResult) {
	base := op.Common()

	if err := r.guard.CheckPath(base.FilePath); err != nil {
		skip(res, err.Error())
		return
	}
	if err := r.guard.CheckOperation(op); err != nil {
		skip(res, err.Error())
		return
	}

	inserted := security.InsertedText(op)
	for _, v := range security.CheckViolations(inserted) {
		res.Warnings = append(res.Warnings, "inserted content matches dangerous pattern: "+v)
	}
	if r.options.ValidateBeforeApply {
		if msg := r.validate(op, inserted, res); msg != "" {
			fail(res, msgSecurityError+": "+msg)
			res.Classification = classify.PermissionErr
			return
		}
	}

	path := r.guard.Resolve(base.FilePath)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		fail(res, fmt.Sprintf("%s: %q", MsgFileNotExist, base.FilePath))
		res.Classification = classify.FileNotFound
		return
	}
	if err != nil {
		fail(res, err.Error())
		return
	}
	if info.IsDir() {
		fail(res, fmt.Sprintf("path is a directory: %q", base.FilePath))
		res.Classification = classify.FileNotFound
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fail(res, err.Error())
		return
	}
	original := string(data)
	res.OriginalHash = hash(original)

	patched, warnings, failed := dispatch(original, op)
	res.Warnings = append(res.Warnings, warnings...)
	if failed != nil {
		fail(res, fmt.Sprintf("%s: %s (operation %q)", MsgStrategiesFailed, failed.detail, base.ID))
		res.Classification = failed.class
		return
	}
	res.PatchedHash = hash(patched)
	if res.PatchedHash == res.OriginalHash {
		skip(res, fmt.Sprintf("operation %s (id %q)", MsgNoChanges, base.ID))
		res.Classification = classify.AlreadyApplied
		return
	}
	res.Diff = UnifiedDiff(base.FilePath, original, patched)

	if !r.dryRun {
		if r.options.CreateBackups && !r.backups[path] {
			if err := os.WriteFile(path+".bak", data, info.Mode().Perm()); err != nil {
				fail(res, fmt.Sprintf("failed to write backup: %v", err))
				return
			}
			r.backups[path] = true
		}
		if err := writeFile(path, []byte(patched), info.Mode().Perm()); err != nil {
			fail(res, err.Error())
			return
		}
	}
	res.Status = plan.OutcomeSuccess
}

// validate returns a non-empty message when op must not be applied.
func (r *run) validate(op plan.Operation, inserted string, res *plan.PatchResult) string {
	if err := security.ValidateOperation(op); err != nil {
		return err.Error()
	}
	findings, err := r.engine.detectSecrets(inserted)
	if err != nil {
		res.Warnings = append(res.Warnings, "secret detection unavailable: "+err.Error())
		return ""
	}
	if len(findings) > 0 {
		rules := make([]string, 0, len(findings))
		for _, f := range findings {
			rules = append(rules, f.RuleID)
		}
		return "inserted content contains secrets (" + strings.Join(rules, ", ") + ")"
	}
	return ""
}

func skip(res *plan.PatchResult, msg string) {
	res.Status = plan.OutcomeSkipped
	res.Error = msg
}

func fail(res *plan.PatchResult, msg string) {
	res.Status = plan.OutcomeFailure
	res.Error = msg
}

func skippedAfterFailure(op plan.Operation) plan.PatchResult {
	res := plan.PatchResult{
		Status:         plan.OutcomeSkipped,
		Classification: classify.Unknown,
		Error:          MsgSkippedAfterFail,
	}
	if op != nil {
		base := op.Common()
		res.OperationID = base.ID
		res.FilePath = base.FilePath
		res.Kind = op.Kind()
		res.Strategy = base.Strategy
	}
	return res
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// writeFile replaces path atomically, keeping perm.
func writeFile(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".patchd-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
