package ports

import "go.trai.ch/apkforge/internal/core/domain"

// ManifestProcessor renders and inspects the application manifest.
//
//go:generate go run go.uber.org/mock/mockgen -source=manifest.go -destination=mocks/mock_manifest.go -package=mocks
type ManifestProcessor interface {
	// Render returns the manifest of a variant with placeholders substituted
	// and the identity attributes of the descriptor applied.
	Render(desc *domain.Descriptor, bt domain.BuildType) ([]byte, error)

	// Inspect extracts the declared components and resource references.
	// Relative component names are resolved against namespace unless the
	// manifest declares a package.
	Inspect(content []byte, namespace string) (*domain.ManifestInfo, error)
}
