// Package app implements the application layer for apkforge.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/apkforge/internal/engine/pipeline"
	"go.trai.ch/apkforge/internal/engine/planner"
	"go.trai.ch/apkforge/internal/engine/scheduler"
	"go.trai.ch/zerr"
)

// App represents the main application logic.
type App struct {
	loader    ports.DescriptorLoader
	pipeline  *pipeline.Pipeline
	scheduler *scheduler.Scheduler
	telemetry ports.Telemetry
	logger    ports.Logger
}

// New creates a new App instance.
func New(
	loader ports.DescriptorLoader,
	pl *pipeline.Pipeline,
	sched *scheduler.Scheduler,
	telemetry ports.Telemetry,
	log ports.Logger,
) *App {
	return &App{
		loader:    loader,
		pipeline:  pl,
		scheduler: sched,
		telemetry: telemetry,
		logger:    log,
	}
}

// SetJSONLog switches the logger to JSON records when it supports them.
func (a *App) SetJSONLog(enable bool) {
	if l, ok := a.logger.(interface{ SetJSON(bool) }); ok {
		l.SetJSON(enable)
	}
}

// BuildOptions configuration for the Build method.
type BuildOptions struct {
	// Config is the descriptor file or a directory to search upwards from.
	Config   string
	Variants []string
	NoCache  bool
	Offline  bool
	// Jobs bounds the number of concurrently running stages. Zero uses
	// the number of CPUs.
	Jobs int
}

// Build produces the packages of the requested variants, debug when none
// is named. A variant that fails leaves no packages behind.
func (a *App) Build(ctx context.Context, opts BuildOptions) error {
	desc, err := a.load(opts.Config)
	if err != nil {
		return err
	}
	defer func() { _ = a.telemetry.Close() }()

	variants := opts.Variants
	if len(variants) == 0 {
		variants = []string{domain.VariantDebug}
	}
	seen := make(map[string]bool, len(variants))
	for _, variant := range variants {
		if seen[variant] {
			continue
		}
		seen[variant] = true
		if err := a.buildVariant(ctx, desc, variant, opts); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) buildVariant(ctx context.Context, desc *domain.Descriptor, variant string, opts BuildOptions) error {
	graph, err := planner.Plan(desc, variant)
	if err != nil {
		return err
	}
	runner, err := a.pipeline.Runner(desc, variant, pipeline.Options{Offline: opts.Offline})
	if err != nil {
		return err
	}

	jobs := opts.Jobs
	if jobs < 1 {
		jobs = runtime.NumCPU()
	}
	layout := domain.NewVariantLayout(variant)
	err = a.scheduler.Run(ctx, graph, runner, scheduler.RunOptions{
		Variant:     variant,
		Parallelism: jobs,
		NoCache:     opts.NoCache,
	})
	if err != nil {
		out := filepath.Join(desc.Root, layout.OutputDir())
		if rmErr := os.RemoveAll(out); rmErr != nil {
			a.logger.Warn(fmt.Sprintf("failed to remove outputs of failed build in %s: %v", out, rmErr))
		}
		return zerr.With(zerr.Wrap(err, "build of "+variant+" failed"), "variant", variant)
	}

	a.logger.Info(fmt.Sprintf("%s packages written to %s", variant, layout.OutputDir()))
	return nil
}

// VariantPlan summarizes the planned build of one variant.
type VariantPlan struct {
	Variant  string
	Tasks    int
	Signed   bool
	Packages []string
}

// Check loads and validates the descriptor and plans every variant.
func (a *App) Check(_ context.Context, config string) ([]VariantPlan, error) {
	desc, err := a.load(config)
	if err != nil {
		return nil, err
	}
	scopes, err := desc.Scopes()
	if err != nil {
		return nil, err
	}

	plans := make([]VariantPlan, 0, len(desc.BuildTypes))
	for _, variant := range desc.VariantNames() {
		graph, err := planner.Plan(desc, variant)
		if err != nil {
			return nil, err
		}
		bt, _ := desc.BuildType(variant)
		_, signed := desc.SigningConfigFor(bt)

		plan := VariantPlan{Variant: variant, Tasks: graph.TaskCount(), Signed: signed}
		for _, scope := range scopes {
			plan.Packages = append(plan.Packages,
				filepath.Join(domain.NewVariantLayout(variant).OutputDir(), desc.PackageFileName(variant, scope, signed)))
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// DepsOptions configuration for the Deps method.
type DepsOptions struct {
	Config  string
	Variant string
	Offline bool
}

// Deps runs the resolve stage of a variant and returns the resolved artifacts.
func (a *App) Deps(ctx context.Context, opts DepsOptions) ([]domain.ResolvedArtifact, error) {
	desc, err := a.load(opts.Config)
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.telemetry.Close() }()

	variant := opts.Variant
	if variant == "" {
		variant = domain.VariantDebug
	}
	graph, err := planner.Plan(desc, variant)
	if err != nil {
		return nil, err
	}
	runner, err := a.pipeline.Runner(desc, variant, pipeline.Options{Offline: opts.Offline})
	if err != nil {
		return nil, err
	}

	err = a.scheduler.Run(ctx, graph, runner, scheduler.RunOptions{
		Variant:     variant,
		Targets:     []string{string(domain.StageResolve)},
		Parallelism: 1,
	})
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "dependency resolution failed"), "variant", variant)
	}

	path := filepath.Join(desc.Root, domain.NewVariantLayout(variant).ResolvedFile())
	data, err := os.ReadFile(path) //nolint:gosec // path is below the project root
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to read resolved dependencies"), "file", path)
	}
	var artifacts []domain.ResolvedArtifact
	if err := json.Unmarshal(data, &artifacts); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to decode resolved dependencies"), "file", path)
	}
	return artifacts, nil
}

// CleanOptions configuration for the Clean method.
type CleanOptions struct {
	Config string
	// All also removes the build info store, the artifact cache and the
	// generated debug key.
	All bool
}

// Clean removes build outputs and, with All, the project state directory.
func (a *App) Clean(_ context.Context, options CleanOptions) error {
	root, err := a.loader.DiscoverRoot(configOrCwd(options.Config))
	if err != nil {
		return err
	}

	var errs error
	remove := func(rel, name string) {
		a.logger.Info(fmt.Sprintf("removing %s...", name))
		if err := os.RemoveAll(filepath.Join(root, rel)); err != nil {
			errs = errors.Join(errs, zerr.Wrap(err, fmt.Sprintf("failed to remove %s", name)))
			return
		}
		a.logger.Info(fmt.Sprintf("removed %s", name))
	}

	remove(domain.BuildDirName, "build outputs")
	if options.All {
		remove(domain.StateDirName, "build state and caches")
	}
	return errs
}

func (a *App) load(config string) (*domain.Descriptor, error) {
	desc, err := a.loader.Load(configOrCwd(config))
	if err != nil {
		return nil, zerr.Wrap(err, "failed to load descriptor")
	}
	return desc, nil
}

func configOrCwd(config string) string {
	if config == "" {
		return "."
	}
	return config
}
