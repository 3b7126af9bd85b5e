package domain

// OutputMetadataVersion is the format version of the output listing.
const OutputMetadataVersion = 3

// SignatureSuffix is appended to a package path to name its detached signature.
const SignatureSuffix = ".asc"

// PackageRequest describes one package to write. Paths are absolute.
type PackageRequest struct {
	ContentDir   string
	ManifestFile string
	Scope        Scope
	Output       string
}

// PackageResult describes a written package.
type PackageResult struct {
	Path    string
	SHA256  string
	Entries []string
}

// OutputMetadata is the listing of a variant's packages.
type OutputMetadata struct {
	Version       int             `json:"version"`
	ArtifactType  ArtifactType    `json:"artifactType"`
	ApplicationID string          `json:"applicationId"`
	VariantName   string          `json:"variantName"`
	Elements      []OutputElement `json:"elements"`
	ElementType   string          `json:"elementType"`
}

// ArtifactType names what the listing describes.
type ArtifactType struct {
	Type string `json:"type"`
	Kind string `json:"kind"`
}

// OutputElement is one package of the listing.
type OutputElement struct {
	Type        OutputKind     `json:"type"`
	Filters     []OutputFilter `json:"filters"`
	VersionCode int            `json:"versionCode"`
	VersionName string         `json:"versionName"`
	OutputFile  string         `json:"outputFile"`
	SHA256      string         `json:"sha256"`
	Signature   string         `json:"signature,omitzero"`
}

// OutputFilter restricts an element to one value of a dimension.
type OutputFilter struct {
	FilterType string `json:"filterType"`
	Value      string `json:"value"`
}

// NewOutputMetadata returns an empty listing for a variant.
func NewOutputMetadata(desc *Descriptor, variant string) OutputMetadata {
	return OutputMetadata{
		Version:       OutputMetadataVersion,
		ArtifactType:  ArtifactType{Type: "APK", Kind: "Directory"},
		ApplicationID: desc.ApplicationID,
		VariantName:   variant,
		Elements:      []OutputElement{},
		ElementType:   "File",
	}
}

// NewOutputElement describes the package of a scope.
func NewOutputElement(desc *Descriptor, scope Scope, file, sha256 string) OutputElement {
	filters := []OutputFilter{}
	if scope.Filter != "" {
		filters = append(filters, OutputFilter{FilterType: "ABI", Value: scope.Filter.String()})
	}
	return OutputElement{
		Type:        scope.Kind,
		Filters:     filters,
		VersionCode: desc.VersionCode,
		VersionName: desc.VersionName,
		OutputFile:  file,
		SHA256:      sha256,
	}
}
