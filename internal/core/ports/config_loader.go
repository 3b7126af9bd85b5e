package ports

import "go.trai.ch/apkforge/internal/core/domain"

// DescriptorLoader defines the interface for loading the build descriptor.
//
//go:generate go run go.uber.org/mock/mockgen -source=config_loader.go -destination=mocks/mock_config_loader.go -package=mocks
type DescriptorLoader interface {
	// Load finds the descriptor starting at cwd (a directory or the
	// descriptor file itself), decodes and validates it.
	Load(cwd string) (*domain.Descriptor, error)

	// DiscoverRoot returns the project root containing the descriptor.
	DiscoverRoot(cwd string) (string, error)
}
