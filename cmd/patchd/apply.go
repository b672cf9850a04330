package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fyrsmithlabs/patchd/internal/plan"
	"github.com/fyrsmithlabs/patchd/internal/sanitize"
	"github.com/fyrsmithlabs/patchd/internal/service"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// maxInputSize bounds plan and envelope files.
const maxInputSize = 10 << 20

type applyFlags struct {
	dryRun   bool
	envelope string
	quiet    bool
}

// applyOutput is written to stdout as JSON.
type applyOutput struct {
	*service.PatchResponse
	ReportPath string `json:"reportPath,omitempty"`
}

func newApplyCmd(g *globalFlags) *cobra.Command {
	f := &applyFlags{}
	cmd := &cobra.Command{
		Use:   "apply [plan.json|-]",
		Short: "Apply a patch plan",
		Long: `Apply a patch plan to the project root and print the result as JSON.

The plan is read from the named file, or from stdin when the argument is
omitted or "-". Without --envelope a conservative envelope is used: the
project root only, AST operations denied, validation before apply.

The command exits 1 unless every operation succeeded.

Examples:
  # Apply a plan
  patchd apply plan.json

  # Preview the diffs only
  patchd apply --dry-run plan.json

  # Apply under an envelope written in YAML, JSON or TOML
  patchd apply --envelope envelope.yaml plan.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, g, f, args)
		},
	}
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "compute results and diffs without writing files")
	cmd.Flags().StringVar(&f.envelope, "envelope", "", "task envelope file (.json, .yaml, .yml or .toml)")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "print only the plan status")
	return cmd
}

func runApply(cmd *cobra.Command, g *globalFlags, f *applyFlags, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	data, err := readPlanInput(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	p, err := plan.ParsePlan(data)
	if err != nil {
		return err
	}

	var env *plan.TaskEnvelope
	if f.envelope != "" {
		if env, err = readEnvelope(f.envelope); err != nil {
			return err
		}
	}

	rt, err := setup(ctx, g, false)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	svc, err := service.New(service.Options{
		Config:  rt.cfg,
		BaseDir: g.dir,
		Logger:  rt.logger.Underlying(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	resp, err := svc.Patch(ctx, service.PatchRequest{
		Plan:        p,
		Envelope:    env,
		DryRun:      f.dryRun,
		WriteReport: true,
	})
	if err != nil {
		return err
	}
	if resp.ReportPath != "" {
		rt.logger.Info(ctx, "failure report written", zap.String("path", resp.ReportPath))
	}

	out := cmd.OutOrStdout()
	if f.quiet {
		fmt.Fprintln(out, resp.Result.Status)
	} else {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(applyOutput{PatchResponse: resp, ReportPath: resp.ReportPath}); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}

	if resp.Result.Status != plan.OutcomeSuccess {
		return &exitError{code: 1}
	}
	return nil
}

func readPlanInput(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(io.LimitReader(stdin, maxInputSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read plan from stdin: %w", err)
		}
		if len(data) > maxInputSize {
			return nil, fmt.Errorf("plan exceeds %d bytes", maxInputSize)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, fmt.Errorf("no plan on stdin")
		}
		return data, nil
	}
	return readInputFile(args[0])
}

func readInputFile(path string) ([]byte, error) {
	clean, err := sanitize.ValidatePath(path, "")
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if info.Size() > maxInputSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", path, maxInputSize)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// readEnvelope decodes an envelope file by extension. YAML and TOML
// documents are normalised to JSON so that embedded plans go through the
// plan codec.
func readEnvelope(path string) (*plan.TaskEnvelope, error) {
	data, err := readInputFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
	case ".yaml", ".yml":
		m, err := yaml.Parser().Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", plan.ErrInvalidEnvelope, err)
		}
		if data, err = json.Marshal(m); err != nil {
			return nil, fmt.Errorf("%w: %v", plan.ErrInvalidEnvelope, err)
		}
	case ".toml":
		var m map[string]any
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, fmt.Errorf("%w: %v", plan.ErrInvalidEnvelope, err)
		}
		if data, err = json.Marshal(m); err != nil {
			return nil, fmt.Errorf("%w: %v", plan.ErrInvalidEnvelope, err)
		}
	default:
		return nil, fmt.Errorf("unsupported envelope format %q (want .json, .yaml, .yml or .toml)", filepath.Ext(path))
	}

	var env plan.TaskEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", plan.ErrInvalidEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}
