package ports

import (
	"context"

	"go.trai.ch/apkforge/internal/core/domain"
)

// Signer produces detached signatures for packages.
//
//go:generate go run go.uber.org/mock/mockgen -source=signer.go -destination=mocks/mock_signer.go -package=mocks
type Signer interface {
	// Sign writes a detached signature next to the package at path and
	// returns the signature path. Key paths are relative to root.
	Sign(ctx context.Context, cfg domain.SigningConfig, root, path string) (string, error)
}
