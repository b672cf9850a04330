package logging

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/patchd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad format", func(c *Config) { c.Format = "xml" }, "format must be"},
		{"no outputs", func(c *Config) { c.Output = OutputConfig{} }, "at least one output"},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, "sampling tick"},
		{"negative skip", func(c *Config) { c.Caller.Skip = -1 }, "caller skip"},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, "invalid redaction pattern"},
		{"empty field", func(c *Config) { c.Fields["env"] = "" }, "non-empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings("trace", "console")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	cfg, err = FromSettings("", "")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, cfg.Level)

	_, err = FromSettings("loud", "")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Tick = config.Duration(time.Second)
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))

	cfg.Output = OutputConfig{OTEL: true}
	_, err = NewLogger(cfg, nil)
	assert.Error(t, err, "otel output without a provider leaves no sink")
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithPlanID(WithRequestID(context.Background(), "req-1"), "plan-1")
	ctx = WithTaskID(ctx, "")

	tl.Info(ctx, "plan applied", zap.Int("operations", 2))

	tl.AssertLogged(t, zapcore.InfoLevel, "plan applied")
	tl.AssertField(t, "plan applied", "request.id", "req-1")
	tl.AssertField(t, "plan applied", "plan.id", "plan-1")
	tl.AssertField(t, "plan applied", "operations", int64(2))
	_, hasTask := tl.All()[0].ContextMap()["task.id"]
	assert.False(t, hasTask)
}

func TestContextFields_Trace(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1},
		SpanID:  trace.SpanID{2},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	fields := ContextFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "trace_id", fields[0].Key)
	assert.Equal(t, sc.TraceID().String(), fields[0].String)
	assert.Nil(t, ContextFields(nil)) //nolint:staticcheck
}

func TestTraceLevel(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "matched anchor")
	tl.AssertLogged(t, TraceLevel, "matched anchor")

	l, err := LevelFromString(" TRACE ")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, l)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "stored")
	tl.AssertLogged(t, zapcore.WarnLevel, "stored")
}

func TestSampledCore_ErrorsAlwaysPass(t *testing.T) {
	tl := NewTestLogger()
	core := newSampledCore(tl.Underlying().Core(), SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(time.Minute),
		Initial:    1,
		Thereafter: 1000,
	})
	z := zap.New(core)
	for i := 0; i < 5; i++ {
		z.Info("repeat")
		z.Error("failure")
	}
	assert.Equal(t, 1, tl.FilterMessage("repeat").Len())
	assert.Equal(t, 5, tl.FilterMessage("failure").Len())
}
