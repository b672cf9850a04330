// Package analysis reviews code snippets for /v1/analyze.
//
// Two analyzers exist. Heuristic runs locally: it scans for dangerous
// patterns, hard-coded secrets, debug statements and unbalanced brackets.
// LLM sends the snippet (scrubbed of secrets) to an OpenAI-compatible or
// Ollama model through langchaingo and parses a JSON answer. New wires the
// configured provider behind Fallback, so an unreachable provider degrades
// to the heuristic result with a warning instead of failing the request.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/patchd/internal/config"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ErrInvalidRequest indicates a request failed validation.
var ErrInvalidRequest = errors.New("invalid analysis request")

// Issue severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Request is the body of /v1/analyze.
type Request struct {
	Code     string `json:"code" validate:"required"`
	Language string `json:"language,omitempty" validate:"max=64"`
	FilePath string `json:"filePath,omitempty" validate:"max=4096"`
	Context  string `json:"context,omitempty"`
}

var requestValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the request shape.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: request is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}
	if err := requestValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Issue is one finding in the analysed code.
type Issue struct {
	Line     int    `json:"line,omitempty"`
	Severity string `json:"severity"`
	Rule     string `json:"rule,omitempty"`
	Message  string `json:"message"`
}

// Analysis is the review of a snippet.
type Analysis struct {
	Issues      []Issue  `json:"issues"`
	Suggestions []string `json:"suggestions"`
	FixedCode   string   `json:"fixedCode,omitempty"`
}

// Metadata describes how an analysis was produced.
type Metadata struct {
	Model          string `json:"model"`
	Provider       string `json:"provider"`
	TokensUsed     int    `json:"tokensUsed,omitempty"`
	ProcessingTime int64  `json:"processingTime"` // milliseconds
	Fallback       bool   `json:"fallback,omitempty"`
	Warning        string `json:"warning,omitempty"`
}

// Response is the body returned by /v1/analyze.
type Response struct {
	Analysis Analysis `json:"analysis"`
	Metadata Metadata `json:"metadata"`
}

// Analyzer reviews code.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Response, error)
}

// New returns the analyzer for cfg. Providers that cannot be constructed
// are logged and replaced by the heuristic analyzer.
func New(cfg config.AnalysisConfig, logger *zap.Logger) Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	heuristic := NewHeuristic()
	if cfg.Provider == "" || cfg.Provider == config.ProviderNone {
		return heuristic
	}

	llm, err := NewLLM(cfg)
	if err != nil {
		logger.Warn("analysis provider unavailable, using heuristic analysis",
			zap.String("provider", cfg.Provider),
			zap.Error(err),
		)
		return heuristic
	}
	return &Fallback{Primary: llm, Secondary: heuristic, Logger: logger}
}

// Fallback answers with Secondary when Primary fails.
type Fallback struct {
	Primary   Analyzer
	Secondary Analyzer
	Logger    *zap.Logger
}

// Analyze implements Analyzer.
func (f *Fallback) Analyze(ctx context.Context, req Request) (*Response, error) {
	resp, err := f.Primary.Analyze(ctx, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, ErrInvalidRequest) {
		return nil, err
	}
	if f.Logger != nil {
		f.Logger.Warn("analysis provider failed, using heuristic analysis", zap.Error(err))
	}

	resp, ferr := f.Secondary.Analyze(ctx, req)
	if ferr != nil {
		return nil, fmt.Errorf("analysis failed: %w", errors.Join(err, ferr))
	}
	resp.Metadata.Fallback = true
	resp.Metadata.Warning = "provider unavailable: " + err.Error()
	return resp, nil
}
