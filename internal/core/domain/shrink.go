package domain

// Directories of staged package content, relative to the merged and shrunk
// stage outputs.
const (
	StagedClassesDir   = "classes"
	StagedResourcesDir = "res"
	StagedNativeDir    = "lib"
	StagedRulesDir     = "proguard"
)

// ShrinkRequest describes one shrink run. Directories are absolute.
type ShrinkRequest struct {
	Root      string
	InputDir  string
	OutputDir string
	// UsageFile receives the listing of removed entries.
	UsageFile string
	// RuleFiles are root-relative rule files or built-in rule names.
	RuleFiles       []string
	Manifest        ManifestInfo
	ShrinkResources bool
}

// ShrinkResult summarizes a shrink run.
type ShrinkResult struct {
	KeptClasses      int
	RemovedClasses   []string
	RemovedResources []string
}
