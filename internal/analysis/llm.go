package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/patchd/internal/config"
	"github.com/fyrsmithlabs/patchd/internal/secrets"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// Provider defaults.
const (
	defaultOpenAIModel = "gpt-4o-mini"
	defaultOllamaModel = "llama3.1"
	defaultBurst       = 2
	defaultTimeout     = 60 * time.Second
)

// systemPrompt asks for the JSON shape parsed by parseAnswer.
const systemPrompt = `You are a meticulous code reviewer.

Review the code the user sends and respond with a JSON object containing:
- "issues": array of {"line": number, "severity": "info"|"warning"|"error", "rule": short id, "message": string}
- "suggestions": array of short, actionable strings
- "fixedCode": the corrected code, or "" when no change is needed

Respond ONLY with the JSON object, no additional text.`

// LLM analyses code with a language model.
type LLM struct {
	model       llms.Model
	provider    string
	modelName   string
	temperature float64
	timeout     time.Duration
	limiter     *rate.Limiter
	scrubber    *secrets.Scrubber
}

// NewLLM builds the client for cfg.Provider.
func NewLLM(cfg config.AnalysisConfig) (*LLM, error) {
	var (
		model llms.Model
		name  = cfg.Model
		err   error
	)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		if cfg.APIKey.Value() == "" && cfg.BaseURL == "" {
			return nil, errors.New("openai API key required")
		}
		if name == "" {
			name = defaultOpenAIModel
		}
		opts := []openai.Option{openai.WithModel(name)}
		if key := cfg.APIKey.Value(); key != "" {
			opts = append(opts, openai.WithToken(key))
		} else {
			// OpenAI-compatible local servers ignore the token but the client requires one.
			opts = append(opts, openai.WithToken("placeholder"))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case config.ProviderOllama:
		if name == "" {
			name = defaultOllamaModel
		}
		opts := []ollama.Option{ollama.WithModel(name), ollama.WithFormat("json")}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported analysis provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Provider, err)
	}
	return NewLLMWithModel(model, cfg.Provider, name, cfg), nil
}

// NewLLMWithModel wraps an existing model.
func NewLLMWithModel(model llms.Model, provider, name string, cfg config.AnalysisConfig) *LLM {
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &LLM{
		model:       model,
		provider:    provider,
		modelName:   name,
		temperature: cfg.Temperature,
		timeout:     timeout,
		limiter:     rate.NewLimiter(limit, defaultBurst),
		scrubber:    secrets.Default(),
	}
}

// Analyze implements Analyzer.
func (l *LLM) Analyze(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.model.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
			llms.TextParts(llms.ChatMessageTypeHuman, l.prompt(req)),
		},
		llms.WithTemperature(l.temperature),
		llms.WithJSONMode(),
	)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", l.provider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", l.provider)
	}

	choice := resp.Choices[0]
	analysis, err := parseAnswer(choice.Content)
	if err != nil {
		return nil, err
	}
	return &Response{
		Analysis: analysis,
		Metadata: Metadata{
			Model:          l.modelName,
			Provider:       l.provider,
			TokensUsed:     tokensUsed(choice.GenerationInfo),
			ProcessingTime: time.Since(start).Milliseconds(),
		},
	}, nil
}

// prompt renders the user message. Secrets never leave the process.
func (l *LLM) prompt(req Request) string {
	var b strings.Builder
	if req.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", req.Language)
	}
	if req.FilePath != "" {
		fmt.Fprintf(&b, "File: %s\n", req.FilePath)
	}
	if req.Context != "" {
		fmt.Fprintf(&b, "Context:\n%s\n", l.scrubber.String(req.Context))
	}
	fmt.Fprintf(&b, "\nCode:\n%s\n", l.scrubber.String(req.Code))
	return b.String()
}

// parseAnswer decodes the model output, tolerating a Markdown code fence.
func parseAnswer(content string) (Analysis, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	var a Analysis
	if err := json.Unmarshal([]byte(content), &a); err != nil {
		return Analysis{}, fmt.Errorf("failed to parse model answer: %w", err)
	}
	if a.Issues == nil {
		a.Issues = []Issue{}
	}
	if a.Suggestions == nil {
		a.Suggestions = []string{}
	}
	for i := range a.Issues {
		switch a.Issues[i].Severity {
		case SeverityInfo, SeverityWarning, SeverityError:
		default:
			a.Issues[i].Severity = SeverityWarning
		}
	}
	return a, nil
}

func tokensUsed(info map[string]any) int {
	switch v := info["TotalTokens"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
