// Package service is the composition root shared by the HTTP server and
// the CLI. It validates incoming plans, resolves the task envelope, runs
// the engine and feeds failures into the learning loop.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fyrsmithlabs/patchd/internal/analysis"
	"github.com/fyrsmithlabs/patchd/internal/classify"
	"github.com/fyrsmithlabs/patchd/internal/config"
	"github.com/fyrsmithlabs/patchd/internal/engine"
	"github.com/fyrsmithlabs/patchd/internal/learning"
	"github.com/fyrsmithlabs/patchd/internal/logging"
	"github.com/fyrsmithlabs/patchd/internal/plan"
	"github.com/fyrsmithlabs/patchd/internal/registry"
	"github.com/fyrsmithlabs/patchd/internal/remediation"
	"github.com/fyrsmithlabs/patchd/internal/secrets"
	"github.com/fyrsmithlabs/patchd/internal/security"
	"go.uber.org/zap"
)

// PatchRequest is the body of /v1/patch and the input of `patchd apply`.
type PatchRequest struct {
	Plan     *plan.PatchPlan    `json:"plan"`
	Envelope *plan.TaskEnvelope `json:"envelope,omitempty"`
	DryRun   bool               `json:"dryRun,omitempty"`

	// WriteReport saves a report file when operations fail, regardless of
	// reflexion.write_reports.
	WriteReport bool `json:"-"`
}

// PatchResponse is the outcome of Patch.
type PatchResponse struct {
	Result   *plan.PatchPlanResult `json:"result"`
	Envelope *plan.TaskEnvelope    `json:"envelope"`
	DryRun   bool                  `json:"dryRun"`

	// Report and ReportPath are set when failures were recorded.
	Report     *learning.Report `json:"-"`
	ReportPath string           `json:"-"`
}

// Options configures a Service. Zero fields get defaults derived from
// Config.
type Options struct {
	Config   *config.Config
	BaseDir  string
	Logger   *zap.Logger
	Store    registry.Store
	Analyzer analysis.Analyzer
	Engine   *engine.Engine
}

// Service implements the patch and analysis operations.
type Service struct {
	baseDir string
	logger  *zap.Logger
	engine  *engine.Engine
	planner *remediation.Planner
	store   registry.Store
	learner *learning.Recorder

	mu       sync.RWMutex
	cfg      config.Config
	analyzer analysis.Analyzer
	fixed    bool // analyzer supplied by the caller; Reload keeps it
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseDir := opts.BaseDir
	if baseDir == "" {
		baseDir = "."
	}
	baseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	store := opts.Store
	if store == nil {
		fs, err := registry.NewFileStore(resolvePath(baseDir, cfg.Reflexion.RegistryPath), cfg.Reflexion.MaxObservations, logger.Named("registry"))
		if err != nil {
			return nil, fmt.Errorf("failed to create registry store: %w", err)
		}
		store = fs
	}

	eng := opts.Engine
	if eng == nil {
		eng = engine.New(logger.Named("engine"))
	}

	planner := remediation.NewPlanner(plannerConfig(cfg.AutoFix), logger.Named("remediation"))
	s := &Service{
		baseDir: baseDir,
		logger:  logger,
		engine:  eng,
		planner: planner,
		store:   store,
		learner: learning.NewRecorder(store, planner, secrets.Default(), logger.Named("learning")),
		cfg:     *cfg,
	}
	if opts.Analyzer != nil {
		s.analyzer = opts.Analyzer
		s.fixed = true
	} else {
		s.analyzer = analysis.New(cfg.Analysis, logger.Named("analysis"))
	}
	return s, nil
}

// BaseDir returns the directory plans are applied in.
func (s *Service) BaseDir() string { return s.baseDir }

// Store returns the registry store.
func (s *Service) Store() registry.Store { return s.store }

// Config returns a snapshot of the active configuration.
func (s *Service) Config() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Reload applies analysis, auto-fix and reflexion settings from cfg.
// Server settings only take effect after a restart.
func (s *Service) Reload(cfg *config.Config) {
	s.mu.Lock()
	old := s.cfg
	keep := old.Server
	s.cfg = *cfg
	s.cfg.Server = keep
	if !s.fixed {
		s.analyzer = analysis.New(cfg.Analysis, s.logger.Named("analysis"))
	}
	s.mu.Unlock()

	s.planner.SetConfig(plannerConfig(cfg.AutoFix))
	if cfg.Server.Address() != keep.Address() || cfg.Server.AllowLAN != keep.AllowLAN {
		s.logger.Warn("server settings changed; restart to apply",
			zap.String("active", keep.Address()),
			zap.String("configured", cfg.Server.Address()),
		)
	}
	s.logger.Info("configuration reloaded",
		zap.String("provider", cfg.Analysis.Provider),
		zap.Bool("autofix", cfg.AutoFix.Enabled),
	)
}

// Analyze reviews a code snippet.
func (s *Service) Analyze(ctx context.Context, req analysis.Request) (*analysis.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	a := s.analyzer
	s.mu.RUnlock()
	return a.Analyze(ctx, req)
}

// Patch validates req, applies the plan and records failures. Invalid
// input returns an error wrapping plan.ErrInvalidPlan or
// plan.ErrInvalidEnvelope; every other outcome is in the response.
func (s *Service) Patch(ctx context.Context, req PatchRequest) (*PatchResponse, error) {
	if err := req.Plan.Validate(); err != nil {
		return nil, err
	}
	if err := req.Envelope.Validate(); err != nil {
		return nil, err
	}

	var env *plan.TaskEnvelope
	if req.Envelope != nil {
		env = security.Harden(req.Envelope, s.baseDir)
		env.Plan = req.Plan
	} else {
		env = security.Conservative(s.baseDir, req.Plan)
	}
	ctx = logging.WithTaskID(logging.WithPlanID(ctx, req.Plan.ID), env.ID)

	result := s.engine.Execute(ctx, req.Plan, env, engine.RunOptions{
		DryRun:  req.DryRun,
		BaseDir: s.baseDir,
	})
	resp := &PatchResponse{Result: result, Envelope: env, DryRun: req.DryRun}

	cfg := s.Config()
	if req.DryRun || !cfg.Reflexion.Enabled || len(result.Failed()) == 0 {
		return resp, nil
	}

	report, err := s.learner.Record(ctx, req.Plan, env, result)
	if err != nil {
		s.logger.Warn("learning update failed", append(logging.ContextFields(ctx), zap.Error(err))...)
	}
	resp.Report = report

	if req.WriteReport || cfg.Reflexion.WriteReports {
		path, err := learning.WriteReport(report, resolvePath(s.baseDir, cfg.Reflexion.ReportsDir))
		if err != nil {
			s.logger.Warn("failed to write report", append(logging.ContextFields(ctx), zap.Error(err))...)
		} else {
			resp.ReportPath = path
			s.logger.Info("report written", append(logging.ContextFields(ctx), zap.String("path", path))...)
		}
	}
	return resp, nil
}

// IsInvalidInput reports whether err was caused by a malformed request.
func IsInvalidInput(err error) bool {
	return errors.Is(err, plan.ErrInvalidPlan) ||
		errors.Is(err, plan.ErrInvalidOperation) ||
		errors.Is(err, plan.ErrInvalidEnvelope) ||
		errors.Is(err, analysis.ErrInvalidRequest)
}

func plannerConfig(c config.AutoFixConfig) *remediation.Config {
	cfg := remediation.DefaultConfig()
	cfg.AutoFix = c.Enabled
	cfg.Whitelist = make([]classify.Classification, 0, len(c.Whitelist))
	for _, w := range c.Whitelist {
		cfg.Whitelist = append(cfg.Whitelist, classify.Classification(w))
	}
	return cfg
}

func resolvePath(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
