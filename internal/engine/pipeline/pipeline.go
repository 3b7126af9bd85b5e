// Package pipeline performs the work of each build stage by driving the adapters.
package pipeline

import (
	"context"
	"path/filepath"

	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/zerr"
)

// stageKinds is the failure kind of errors a stage observes from layers
// that do not classify their own errors.
var stageKinds = map[domain.Stage]error{
	domain.StageResolve:  domain.ErrUnresolvedDependency,
	domain.StageManifest: domain.ErrConfiguration,
	domain.StageCompile:  domain.ErrCompilation,
	domain.StageMerge:    domain.ErrPackaging,
	domain.StageShrink:   domain.ErrShrinking,
	domain.StagePackage:  domain.ErrPackaging,
	domain.StageSign:     domain.ErrPackaging,
	domain.StageMetadata: domain.ErrPackaging,
}

// Options controls a build of one variant.
type Options struct {
	// Offline forbids network access during dependency resolution.
	Offline bool
}

// Pipeline holds the adapters the stages are built from.
type Pipeline struct {
	resolver  ports.DependencyResolver
	manifests ports.ManifestProcessor
	executor  ports.Executor
	classes   ports.ClassParser
	shrinker  ports.Shrinker
	packager  ports.Packager
	signer    ports.Signer
}

// New creates a new Pipeline.
func New(
	resolver ports.DependencyResolver,
	manifests ports.ManifestProcessor,
	executor ports.Executor,
	classes ports.ClassParser,
	shrinker ports.Shrinker,
	packager ports.Packager,
	signer ports.Signer,
) *Pipeline {
	return &Pipeline{
		resolver:  resolver,
		manifests: manifests,
		executor:  executor,
		classes:   classes,
		shrinker:  shrinker,
		packager:  packager,
		signer:    signer,
	}
}

// Runner performs the stage tasks of one variant.
type Runner struct {
	p       *Pipeline
	desc    *domain.Descriptor
	bt      domain.BuildType
	variant string
	layout  domain.VariantLayout
	opts    Options
}

var _ ports.StageRunner = (*Runner)(nil)

// Runner returns the stage runner for variant.
func (p *Pipeline) Runner(desc *domain.Descriptor, variant string, opts Options) (*Runner, error) {
	bt, ok := desc.BuildType(variant)
	if !ok {
		return nil, zerr.With(
			zerr.Wrap(domain.Classify(domain.ErrConfiguration, domain.ErrUnknownVariant), variant),
			"variant", variant,
		)
	}
	return &Runner{
		p:       p,
		desc:    desc,
		bt:      bt,
		variant: variant,
		layout:  domain.NewVariantLayout(variant),
		opts:    opts,
	}, nil
}

// Run implements ports.StageRunner. Every returned error carries a failure kind.
func (r *Runner) Run(ctx context.Context, task *domain.Task, vertex ports.Vertex) error {
	var err error
	switch task.Stage {
	case domain.StageResolve:
		err = r.resolve(ctx, vertex)
	case domain.StageManifest:
		err = r.renderManifest(vertex)
	case domain.StageCompile:
		err = r.compile(ctx, vertex)
	case domain.StageMerge:
		err = r.merge(vertex)
	case domain.StageShrink:
		err = r.shrink(ctx, vertex)
	case domain.StagePackage:
		err = r.pack(ctx, task.Scope, vertex)
	case domain.StageSign:
		err = r.sign(ctx, task.Scope, vertex)
	case domain.StageMetadata:
		err = r.writeMetadata(vertex)
	default:
		return zerr.With(zerr.Wrap(domain.ErrUnknownStage, string(task.Stage)), "task", task.Name.String())
	}

	if err == nil || domain.KindOf(err) != nil {
		return err
	}
	return domain.Classify(stageKinds[task.Stage], err)
}

// path returns the absolute form of a root-relative path.
func (r *Runner) path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(r.desc.Root, rel)
}

// scope returns the package scope named name.
func (r *Runner) scope(name string) (domain.Scope, error) {
	scopes, err := r.desc.Scopes()
	if err != nil {
		return domain.Scope{}, err
	}
	for _, s := range scopes {
		if s.Name == name {
			return s, nil
		}
	}
	return domain.Scope{}, zerr.With(zerr.Wrap(domain.ErrPackaging, "unknown package scope "+name), "scope", name)
}

// packagePath returns the absolute path of a scope's package.
func (r *Runner) packagePath(scope domain.Scope) string {
	_, signed := r.desc.SigningConfigFor(r.bt)
	return r.path(filepath.Join(r.layout.OutputDir(), r.desc.PackageFileName(r.variant, scope, signed)))
}
