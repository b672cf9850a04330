package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/fyrsmithlabs/patchd/internal/registry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRegistryCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect or trim the failure registry",
	}
	cmd.AddCommand(newRegistryShowCmd(g))
	cmd.AddCommand(newRegistryTrimCmd(g))
	return cmd
}

func newRegistryShowCmd(g *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the registry as JSON",
		Long: `Print recorded failure observations and suggested operations.

Examples:
  # Everything
  patchd registry show

  # Observations for one file
  patchd registry show --file src/app.ts`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeFn, err := openRegistry(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer closeFn()

			reg, err := store.Read(cmd.Context())
			if err != nil {
				return err
			}
			var v any = reg
			if file != "" {
				v = reg.Find(file)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "only show observations for this file path")
	return cmd
}

func newRegistryTrimCmd(g *globalFlags) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "trim",
		Short: "Keep only the most recently seen observations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if keep <= 0 {
				return fmt.Errorf("--max must be > 0")
			}
			store, closeFn, err := openRegistry(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer closeFn()

			var before int
			reg, err := store.Update(cmd.Context(), func(r *registry.Registry) error {
				before = len(r.Observations)
				*r = *registry.LimitSize(r, keep)
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "kept %d of %d observations\n", len(reg.Observations), before)
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "max", registry.DefaultMaxObservations, "observations to keep")
	return cmd
}

// openRegistry opens the file store configured for the project root.
func openRegistry(ctx context.Context, g *globalFlags) (*registry.FileStore, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := setup(ctx, g, false)
	if err != nil {
		return nil, nil, err
	}
	path := rt.cfg.Reflexion.RegistryPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(g.dir, path)
	}
	store, err := registry.NewFileStore(path, rt.cfg.Reflexion.MaxObservations, rt.logger.Underlying().Named("registry"))
	if err != nil {
		rt.close(ctx)
		return nil, nil, err
	}
	rt.logger.Debug(ctx, "registry opened", zap.String("path", path))
	return store, func() { rt.close(ctx) }, nil
}
