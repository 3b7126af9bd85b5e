package domain

import (
	"maps"
	"slices"
	"strconv"
)

// Built-in build type and signing config names.
const (
	VariantDebug   = "debug"
	VariantRelease = "release"
	SigningDebug   = "debug"
)

// Built-in shrinking rule files.
const (
	DefaultRulesOptimize = "proguard-android-optimize.txt"
	DefaultRules         = "proguard-android.txt"
)

// Repository kinds.
const (
	RepositoryFlatDir = "flatDir"
	RepositoryMaven   = "maven"
)

// Descriptor is the validated build descriptor of an application module.
// It is read once per invocation and never mutated during a build.
type Descriptor struct {
	Name                 string
	Root                 string
	Path                 string
	Namespace            string
	ApplicationID        string
	VersionCode          int
	VersionName          string
	SDK                  SDKVersions
	CompileOptions       CompileOptions
	MultiDex             bool
	ABIFilters           []ABI
	BuildTypes           map[string]BuildType
	Splits               Splits
	Repositories         []Repository
	Dependencies         []Dependency
	SigningConfigs       map[string]SigningConfig
	ManifestPlaceholders map[string]string
	Sources              Sources
}

// SDKVersions holds the platform API bounds.
type SDKVersions struct {
	MinSDK     int
	TargetSDK  int
	CompileSDK int
}

// CompileOptions controls the compile stage.
type CompileOptions struct {
	SourceCompatibility   JavaLevel
	TargetCompatibility   JavaLevel
	CoreLibraryDesugaring bool
	// Command is an optional compiler invocation; when empty the classes
	// directory is taken as precompiled output.
	Command []string
}

// BuildType is a named build variant.
type BuildType struct {
	Name            string
	Minify          bool
	ShrinkResources bool
	ProguardFiles   []string
	SigningConfig   string
	Debuggable      bool
}

// Splits controls per-ABI packaging.
type Splits struct {
	ABI ABISplit
}

// ABISplit produces one package per included ABI, plus an optional universal one.
type ABISplit struct {
	Enable    bool
	Include   []ABI
	Universal bool
}

// Repository is a place modules are looked up in.
type Repository struct {
	Kind string
	Dirs []string
	URL  string
}

// SigningConfig names the key packages are signed with.
type SigningConfig struct {
	Name    string
	KeyFile string
	// PassphraseEnv names the environment variable holding the key passphrase.
	PassphraseEnv string
}

// KeyPath returns the key file packages are signed with. The debug config
// without a key file uses the generated debug key.
func (c SigningConfig) KeyPath() string {
	if c.KeyFile == "" && c.Name == SigningDebug {
		return DefaultDebugKeyPath()
	}
	return c.KeyFile
}

// Sources lists root-relative source locations.
type Sources struct {
	Manifest  string
	Classes   string
	Java      string
	Resources string
	JNILibs   string
}

// BuildType returns the named variant, or false if it is not defined.
func (d *Descriptor) BuildType(name string) (BuildType, bool) {
	bt, ok := d.BuildTypes[name]
	return bt, ok
}

// VariantNames returns the defined build variants in name order.
func (d *Descriptor) VariantNames() []string {
	return slices.Sorted(maps.Keys(d.BuildTypes))
}

// SigningConfigFor returns the signing config of a variant, or false if the
// variant's packages stay unsigned.
func (d *Descriptor) SigningConfigFor(bt BuildType) (SigningConfig, bool) {
	if bt.SigningConfig == "" {
		return SigningConfig{}, false
	}
	if sc, ok := d.SigningConfigs[bt.SigningConfig]; ok {
		return sc, true
	}
	if bt.SigningConfig == SigningDebug {
		return SigningConfig{Name: SigningDebug}, true
	}
	return SigningConfig{}, false
}

// DependenciesOf returns the dependencies of one configuration in declaration order.
func (d *Descriptor) DependenciesOf(configuration string) []Dependency {
	var out []Dependency
	for _, dep := range d.Dependencies {
		if dep.Configuration == configuration {
			out = append(out, dep)
		}
	}
	return out
}

// Placeholders returns the manifest placeholder values of the descriptor.
// User placeholders override built-in ones.
func (d *Descriptor) Placeholders() map[string]string {
	values := map[string]string{
		"applicationId":    d.ApplicationID,
		"namespace":        d.Namespace,
		"versionCode":      strconv.Itoa(d.VersionCode),
		"versionName":      d.VersionName,
		"minSdkVersion":    strconv.Itoa(d.SDK.MinSDK),
		"targetSdkVersion": strconv.Itoa(d.SDK.TargetSDK),
	}
	maps.Copy(values, d.ManifestPlaceholders)
	return values
}
