package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/fyrsmithlabs/patchd/internal/analysis"
	"github.com/fyrsmithlabs/patchd/internal/plan"
	"github.com/fyrsmithlabs/patchd/internal/service"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// handleHealth returns liveness and the public configuration.
func (s *Server) handleHealth(c echo.Context) error {
	cfg := s.svc.Config()
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: ServiceName,
		Version: s.opts.Version,
		Config: HealthConfig{
			Provider: cfg.Analysis.Provider,
			Model:    cfg.Analysis.Model,
			Bind:     cfg.Server.Bind,
			Port:     cfg.Server.Port,
		},
	})
}

// handleStatus reports registry counts and feature flags.
func (s *Server) handleStatus(c echo.Context) error {
	cfg := s.svc.Config()
	obs, ops := CountFromRegistry(c.Request().Context(), s.svc.Store())

	resp := StatusResponse{
		Status:    "ok",
		Version:   s.opts.Version,
		Registry:  RegistryCounts{Observations: obs, SuggestedOps: ops},
		Reflexion: cfg.Reflexion.Enabled,
		AutoFix:   cfg.AutoFix.Enabled,
	}
	if s.opts.Degraded != nil {
		ts := &TelemetryStatus{Status: "healthy"}
		if degraded, err := s.opts.Degraded(); degraded {
			ts.Status = "degraded"
			if err != nil {
				ts.Error = err.Error()
			}
		}
		resp.Telemetry = ts
	}
	return c.JSON(http.StatusOK, resp)
}

// handleAnalyze reviews the submitted code.
func (s *Server) handleAnalyze(c echo.Context) error {
	var req analysis.Request
	if err := decodeBody(c, &req); err != nil {
		return err
	}

	resp, err := s.svc.Analyze(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// patchBody mirrors service.PatchRequest with a pointer for dryRun so
// that a wrongly typed value is rejected instead of defaulting.
type patchBody struct {
	Plan     *plan.PatchPlan    `json:"plan"`
	Envelope *plan.TaskEnvelope `json:"envelope"`
	DryRun   *bool              `json:"dryRun"`
}

// handlePatch applies a plan.
func (s *Server) handlePatch(c echo.Context) error {
	var body patchBody
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	if body.Plan == nil {
		return badRequest("plan is required", nil)
	}

	req := service.PatchRequest{Plan: body.Plan, Envelope: body.Envelope}
	if body.DryRun != nil {
		req.DryRun = *body.DryRun
	}

	resp, err := s.svc.Patch(c.Request().Context(), req)
	if err != nil {
		return err
	}
	s.logger.Debug("plan applied",
		zap.String("plan_id", body.Plan.ID),
		zap.String("status", string(resp.Result.Status)),
		zap.Bool("dry_run", resp.DryRun),
	)
	return c.JSON(http.StatusOK, resp)
}

// decodeBody decodes a JSON request body into v. Syntax and type errors
// become 400 responses naming the offending field.
func decodeBody(c echo.Context, v any) error {
	dec := json.NewDecoder(c.Request().Body)
	if err := dec.Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		var syntaxErr *json.SyntaxError
		var httpErr *echo.HTTPError
		switch {
		case errors.Is(err, io.EOF):
			return badRequest("request body is required", nil)
		case errors.As(err, &typeErr):
			return badRequest("invalid request body", fmt.Errorf("%s must be %s", typeErr.Field, typeErr.Type))
		case errors.As(err, &syntaxErr):
			return badRequest("invalid JSON", err)
		case errors.As(err, &httpErr):
			return httpErr
		case errors.Is(err, plan.ErrInvalidPlan), errors.Is(err, plan.ErrUnknownOperation), errors.Is(err, plan.ErrInvalidOperation):
			return badRequest("invalid plan", err)
		default:
			return badRequest("invalid request body", err)
		}
	}
	return nil
}

func badRequest(msg string, internal error) *echo.HTTPError {
	he := echo.NewHTTPError(http.StatusBadRequest, msg)
	if internal != nil {
		he = he.SetInternal(internal)
	}
	return he
}
