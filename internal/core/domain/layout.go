package domain

import "path/filepath"

const (
	// StateDirName is the name of the internal project state directory.
	StateDirName = ".apkforge"

	// StoreDirName is the name of the build info store directory.
	StoreDirName = "store"

	// CacheDirName is the name of the cache directory.
	CacheDirName = "cache"

	// ArtifactsDirName is the name of the downloaded artifact cache directory.
	ArtifactsDirName = "artifacts"

	// DebugKeyDirName is the name of the directory holding the generated debug key.
	DebugKeyDirName = "debug"

	// DebugKeyFileName is the name of the generated debug key file.
	DebugKeyFileName = "debug.asc"

	// DescriptorFileName is the name of the project build descriptor.
	DescriptorFileName = "apkforge.yaml"

	// BuildDirName is the name of the build output directory.
	BuildDirName = "build"

	// IntermediatesDirName holds per-variant stage outputs.
	IntermediatesDirName = "intermediates"

	// OutputsDirName holds the produced packages.
	OutputsDirName = "outputs"

	// OutputMetadataFileName is the name of the per-variant output listing.
	OutputMetadataFileName = "output-metadata.json"

	// DirPerm is the default permission for directories (rwxr-x---).
	DirPerm = 0o750

	// FilePerm is the default permission for files (rw-r--r--).
	FilePerm = 0o644

	// PrivateFilePerm is the default permission for private files (rw-------).
	PrivateFilePerm = 0o600
)

// DefaultStorePath returns the root-relative path of the build info store.
func DefaultStorePath() string {
	return filepath.Join(StateDirName, StoreDirName)
}

// DefaultArtifactCachePath returns the root-relative path of the downloaded artifact cache.
func DefaultArtifactCachePath() string {
	return filepath.Join(StateDirName, CacheDirName, ArtifactsDirName)
}

// DefaultDebugKeyPath returns the root-relative path of the generated debug signing key.
func DefaultDebugKeyPath() string {
	return filepath.Join(StateDirName, DebugKeyDirName, DebugKeyFileName)
}

// VariantLayout names the root-relative locations a variant build reads and writes.
type VariantLayout struct {
	Variant string
}

// NewVariantLayout returns the layout for the named variant.
func NewVariantLayout(variant string) VariantLayout {
	return VariantLayout{Variant: variant}
}

// Intermediates returns the directory holding the variant's stage outputs.
func (l VariantLayout) Intermediates() string {
	return filepath.Join(BuildDirName, IntermediatesDirName, l.Variant)
}

// ResolvedFile returns the path of the resolved dependency listing.
func (l VariantLayout) ResolvedFile() string {
	return filepath.Join(l.Intermediates(), "resolved.json")
}

// ManifestFile returns the path of the processed manifest.
func (l VariantLayout) ManifestFile() string {
	return filepath.Join(l.Intermediates(), "manifest", "AndroidManifest.xml")
}

// ClassesDir returns the directory of compiled application classes.
func (l VariantLayout) ClassesDir() string {
	return filepath.Join(l.Intermediates(), "classes")
}

// ClasspathDir returns the directory of library archives extracted for the compiler.
func (l VariantLayout) ClasspathDir() string {
	return filepath.Join(l.Intermediates(), "classpath")
}

// MergedDir returns the directory of merged package content.
func (l VariantLayout) MergedDir() string {
	return filepath.Join(l.Intermediates(), "merged")
}

// ShrunkDir returns the directory of shrunk package content.
func (l VariantLayout) ShrunkDir() string {
	return filepath.Join(l.Intermediates(), "shrunk")
}

// UsageFile returns the path of the listing of entries removed by shrinking.
func (l VariantLayout) UsageFile() string {
	return filepath.Join(l.Intermediates(), "mapping", "usage.txt")
}

// OutputDir returns the directory holding the variant's packages.
func (l VariantLayout) OutputDir() string {
	return filepath.Join(BuildDirName, OutputsDirName, "apk", l.Variant)
}

// OutputMetadataFile returns the path of the variant's output listing.
func (l VariantLayout) OutputMetadataFile() string {
	return filepath.Join(l.OutputDir(), OutputMetadataFileName)
}
