package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/patchd/internal/config"
	"github.com/fyrsmithlabs/patchd/internal/plan"
	"github.com/fyrsmithlabs/patchd/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	*Server
	dir string
}

func setupTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Server.RateLimit = 1000
	for _, m := range mutate {
		m(cfg)
	}
	dir := t.TempDir()
	svc, err := service.New(service.Options{Config: cfg, BaseDir: dir})
	require.NoError(t, err)
	server, err := NewServer(svc, zap.NewNop(), Options{Version: "1.2.3"})
	require.NoError(t, err)
	return &testServer{Server: server, dir: dir}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, r)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestNewServer(t *testing.T) {
	svc, err := service.New(service.Options{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = NewServer(nil, zap.NewNop(), Options{})
	assert.ErrorContains(t, err, "service cannot be nil")

	_, err = NewServer(svc, nil, Options{})
	assert.ErrorContains(t, err, "logger is required")

	s, err := NewServer(svc, zap.NewNop(), Options{})
	require.NoError(t, err)
	assert.NotNil(t, s.echo)
}

func TestHandleHealth(t *testing.T) {
	s := setupTestServer(t, func(c *config.Config) { c.Analysis.Model = "gpt-x" })

	rec := s.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, HealthResponse{
		Status:  "ok",
		Service: "patchd",
		Version: "1.2.3",
		Config:  HealthConfig{Provider: "none", Model: "gpt-x", Bind: "127.0.0.1", Port: 9611},
	}, resp)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleAnalyze(t *testing.T) {
	s := setupTestServer(t)

	t.Run("analyzes code", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/v1/analyze", `{"code":"eval(x)","language":"js"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp map[string]map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp["analysis"], "issues")
		assert.Contains(t, resp["analysis"], "suggestions")
		assert.Equal(t, "heuristic", resp["metadata"]["model"])
		assert.Equal(t, "none", resp["metadata"]["provider"])
		assert.Contains(t, resp["metadata"], "processingTime")
	})

	t.Run("missing code", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/v1/analyze", `{"language":"js"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeError(t, rec).Details, "code is required")
	})

	t.Run("code not a string", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/v1/analyze", `{"code":42}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "code must be string", decodeError(t, rec).Details)
	})

	t.Run("malformed json", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/v1/analyze", `{"code":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NotEmpty(t, decodeError(t, rec).Error)
	})
}

func TestHandlePatch(t *testing.T) {
	s := setupTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "a.ts"), []byte("let x = 1;\n"), 0644))
	planJSON := `{"id":"p1","operations":[{"id":"o1","type":"search_replace","filePath":"a.ts","search":"x = 1","replace":"x = 2"}]}`

	t.Run("dry run", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/v1/patch", `{"plan":`+planJSON+`,"dryRun":true}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Result   plan.PatchPlanResult `json:"result"`
			Envelope plan.TaskEnvelope    `json:"envelope"`
			DryRun   bool                 `json:"dryRun"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.DryRun)
		assert.Equal(t, plan.OutcomeSuccess, resp.Result.Status)
		assert.NotEmpty(t, resp.Envelope.ID)
		assert.True(t, resp.Envelope.Options.ValidateBeforeApply)

		data, err := os.ReadFile(filepath.Join(s.dir, "a.ts"))
		require.NoError(t, err)
		assert.Equal(t, "let x = 1;\n", string(data))
	})

	t.Run("applies", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/v1/patch", `{"plan":`+planJSON+`,"envelope":{"scope":{"allowOps":["search_replace"]}}}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		data, err := os.ReadFile(filepath.Join(s.dir, "a.ts"))
		require.NoError(t, err)
		assert.Equal(t, "let x = 2;\n", string(data))
	})

	tests := []struct {
		name string
		body string
	}{
		{"missing plan", `{}`},
		{"plan not an object", `{"plan":"nope"}`},
		{"plan without id", `{"plan":{"operations":[]}}`},
		{"unknown operation", `{"plan":{"id":"p","operations":[{"type":"rename","filePath":"a"}]}}`},
		{"dryRun not a bool", `{"plan":` + planJSON + `,"dryRun":"yes"}`},
		{"envelope not an object", `{"plan":` + planJSON + `,"envelope":[]}`},
		{"negative retries", `{"plan":` + planJSON + `,"envelope":{"scope":{"maxRetries":-1}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/v1/patch", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeError(t, rec).Error)
		})
	}
}

func TestHandleStatus(t *testing.T) {
	s := setupTestServer(t)
	s.opts.Degraded = func() (bool, error) { return true, errors.New("otlp unreachable") }

	rec := s.do(http.MethodPost, "/v1/patch", `{"plan":{"id":"p","operations":[{"id":"o","type":"anchor","filePath":"missing.ts","anchor":"a","insert":"b","position":"after"}]}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Registry.Observations)
	assert.GreaterOrEqual(t, resp.Registry.SuggestedOps, 0)
	assert.True(t, resp.Reflexion)
	require.NotNil(t, resp.Telemetry)
	assert.Equal(t, "degraded", resp.Telemetry.Status)
	assert.Equal(t, "otlp unreachable", resp.Telemetry.Error)
}

func TestErrorShape(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", decodeError(t, rec).Error)
}

func TestRateLimit(t *testing.T) {
	s := setupTestServer(t, func(c *config.Config) { c.Server.RateLimit = 0.5 })

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/status", "").Code)
	rec := s.do(http.MethodGet, "/v1/status", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", decodeError(t, rec).Error)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "").Code, "health is not limited")
}

func TestBodyLimit(t *testing.T) {
	s := setupTestServer(t, func(c *config.Config) { c.Server.BodyLimit = "1K" })

	body := `{"code":"` + strings.Repeat("a", 4096) + `"}`
	rec := s.do(http.MethodPost, "/v1/analyze", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	cfg := config.Default()
	svc, err := service.New(service.Options{Config: cfg, BaseDir: t.TempDir()})
	require.NoError(t, err)
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	s, err := NewServer(svc, zap.NewNop(), Options{MetricsHandler: handler})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics\n", rec.Body.String())
}

func TestStartListenerAndShutdown(t *testing.T) {
	s := setupTestServer(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.StartListener(l) }()

	url := "http://" + l.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-done)
}
