package ports

import (
	"context"

	"go.trai.ch/apkforge/internal/core/domain"
)

// Shrinker removes unreachable classes and resources from staged content.
//
//go:generate go run go.uber.org/mock/mockgen -source=shrinker.go -destination=mocks/mock_shrinker.go -package=mocks
type Shrinker interface {
	// Shrink copies the reachable part of req.InputDir to req.OutputDir.
	// Rule and reachability failures are ErrShrinking.
	Shrink(ctx context.Context, req domain.ShrinkRequest) (*domain.ShrinkResult, error)
}
