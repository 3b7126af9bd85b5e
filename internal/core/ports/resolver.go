package ports

import (
	"context"

	"go.trai.ch/apkforge/internal/core/domain"
)

// InputResolver defines the interface for resolving input files.
//
//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_resolver.go -package=mocks -source=resolver.go
type InputResolver interface {
	// ResolveInputs resolves root-relative input patterns to concrete file paths.
	ResolveInputs(inputs []string, root string) ([]string, error)
}

// ResolveOptions controls dependency resolution.
type ResolveOptions struct {
	// Offline forbids network access; cached downloads are still used.
	Offline bool
}

// DependencyResolver locates every declared dependency of a descriptor on disk.
type DependencyResolver interface {
	// Resolve returns one artifact per resolved archive, in declaration order.
	// A dependency that cannot be found is an ErrUnresolvedDependency.
	Resolve(ctx context.Context, desc *domain.Descriptor, opts ResolveOptions) ([]domain.ResolvedArtifact, error)
}
