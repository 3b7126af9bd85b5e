package ports

import (
	"context"

	"go.trai.ch/apkforge/internal/core/domain"
)

// Packager writes application packages and their listing.
//
//go:generate go run go.uber.org/mock/mockgen -source=packager.go -destination=mocks/mock_packager.go -package=mocks
type Packager interface {
	// Package writes the package of one scope. Identical inputs produce
	// byte-identical packages. Failures are ErrPackaging and leave no file
	// at req.Output.
	Package(ctx context.Context, req domain.PackageRequest) (*domain.PackageResult, error)

	// WriteMetadata writes the output listing to path.
	WriteMetadata(path string, meta domain.OutputMetadata) error
}
