// Package repository locates declared dependencies in flatDir and maven
// repositories.
package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
)

const (
	httpClientTimeout = 60 * time.Second
	resolveParallel   = 4
)

var _ ports.DependencyResolver = (*Resolver)(nil)

// Resolver implements ports.DependencyResolver.
type Resolver struct {
	logger     ports.Logger
	httpClient *http.Client
}

// NewResolver creates a Resolver with a default HTTP client.
func NewResolver(logger ports.Logger) *Resolver {
	return newResolverWithClient(logger, &http.Client{Timeout: httpClientTimeout})
}

func newResolverWithClient(logger ports.Logger, client *http.Client) *Resolver {
	return &Resolver{logger: logger, httpClient: client}
}

// Resolve locates every dependency of desc. Dependencies are looked up
// concurrently; results and the reported failure follow declaration order.
func (r *Resolver) Resolve(
	ctx context.Context,
	desc *domain.Descriptor,
	opts ports.ResolveOptions,
) ([]domain.ResolvedArtifact, error) {
	sources := r.sources(desc, opts)

	results := make([][]domain.ResolvedArtifact, len(desc.Dependencies))
	errs := make([]error, len(desc.Dependencies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveParallel)
	for i, dep := range desc.Dependencies {
		g.Go(func() error {
			if dep.Module != nil {
				results[i], errs[i] = r.resolveModule(gctx, desc.Root, dep, sources)
			} else {
				results[i], errs[i] = resolveFiles(desc.Root, dep)
			}
			return nil
		})
	}
	_ = g.Wait()

	var artifacts []domain.ResolvedArtifact
	for i := range desc.Dependencies {
		if errs[i] != nil {
			return nil, errs[i]
		}
		artifacts = append(artifacts, results[i]...)
	}
	return artifacts, nil
}

func (r *Resolver) sources(desc *domain.Descriptor, opts ports.ResolveOptions) []source {
	cacheDir := filepath.Join(desc.Root, domain.DefaultArtifactCachePath())

	var sources []source
	for _, repo := range desc.Repositories {
		switch repo.Kind {
		case domain.RepositoryFlatDir:
			for _, dir := range repo.Dirs {
				sources = append(sources, &flatDir{dir: rootPath(desc.Root, dir)})
			}
		case domain.RepositoryMaven:
			if isRemote(repo.URL) {
				sources = append(sources, &remoteMaven{
					url:      strings.TrimSuffix(repo.URL, "/"),
					cacheDir: cacheDir,
					offline:  opts.Offline,
					client:   r.httpClient,
					logger:   r.logger,
				})
			} else {
				sources = append(sources, &localMaven{dir: rootPath(desc.Root, strings.TrimPrefix(repo.URL, "file://"))})
			}
		}
	}
	return sources
}

// resolveFiles checks local archives relative to root.
func resolveFiles(root string, dep domain.Dependency) ([]domain.ResolvedArtifact, error) {
	artifacts := make([]domain.ResolvedArtifact, 0, len(dep.Files))
	for _, file := range dep.Files {
		path := rootPath(root, file)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return nil, zerr.With(zerr.With(
				zerr.Wrap(domain.ErrUnresolvedDependency, "local archive "+file+" does not exist"),
				"dependency", dep.String()),
				"path", file,
			)
		}
		artifact, err := newArtifact(root, dep.Configuration, "", "", path)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, nil
}

func (r *Resolver) resolveModule(
	ctx context.Context,
	root string,
	dep domain.Dependency,
	sources []source,
) ([]domain.ResolvedArtifact, error) {
	coord := *dep.Module

	version := coord.Version
	if !isExactVersion(version) {
		picked, err := pickVersion(ctx, coord, sources)
		if err != nil {
			return nil, err
		}
		version = picked
	}

	for _, src := range sources {
		path, err := src.fetch(ctx, coord, version)
		if err != nil {
			return nil, zerr.With(err, "dependency", coord.String())
		}
		if path == "" {
			continue
		}
		artifact, err := newArtifact(root, dep.Configuration, coord.Module(), version, path)
		if err != nil {
			return nil, err
		}
		return []domain.ResolvedArtifact{artifact}, nil
	}

	return nil, unresolved(coord, coord.Module()+":"+version)
}

func unresolved(coord domain.Coordinate, wanted string) error {
	msg := wanted + " was not found in any configured repository"
	if wanted != coord.String() {
		msg = wanted + " (from " + coord.String() + ") was not found in any configured repository"
	}
	return zerr.With(zerr.Wrap(domain.ErrUnresolvedDependency, msg), "dependency", coord.String())
}

// pickVersion returns the highest version matching the coordinate's
// constraint across all repositories.
func pickVersion(ctx context.Context, coord domain.Coordinate, sources []source) (string, error) {
	constraint, err := semver.NewConstraint(coord.Version)
	if err != nil {
		return "", zerr.With(
			zerr.Wrap(domain.ErrConfiguration, "invalid version constraint "+coord.Version+" for "+coord.Module()),
			"dependency", coord.String(),
		)
	}

	var available []string
	for _, src := range sources {
		versions, err := src.versions(ctx, coord)
		if err != nil {
			return "", zerr.With(err, "dependency", coord.String())
		}
		available = append(available, versions...)
	}

	if picked, ok := highestMatching(available, constraint); ok {
		return picked, nil
	}
	return "", zerr.With(zerr.With(
		zerr.Wrap(domain.ErrUnresolvedDependency, "no version of "+coord.Module()+" matches "+coord.Version),
		"dependency", coord.String()),
		"available", strings.Join(available, ", "),
	)
}

func newArtifact(root, configuration, module, version, path string) (domain.ResolvedArtifact, error) {
	sum, err := fileSHA256(path)
	if err != nil {
		return domain.ResolvedArtifact{}, zerr.With(zerr.Wrap(err, "failed to hash artifact"), "path", path)
	}
	return domain.ResolvedArtifact{
		Configuration: configuration,
		Coordinate:    module,
		Version:       version,
		Path:          relativeTo(root, path),
		Kind:          domain.ArchiveKind(path),
		SHA256:        sum,
	}, nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // Path is resolved by the caller
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck // Best effort close in defer

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func rootPath(root, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(root, path)
}

// relativeTo returns path relative to root when it lies inside root.
func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func isRemote(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}
