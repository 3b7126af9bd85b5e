package config

import (
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// Descriptor represents the structure of the apkforge.yaml build descriptor.
type Descriptor struct {
	Name           string                      `yaml:"name"`
	Namespace      string                      `yaml:"namespace"`
	CompileSDK     int                         `yaml:"compileSdk"`
	DefaultConfig  DefaultConfigDTO            `yaml:"defaultConfig"`
	CompileOptions CompileOptionsDTO           `yaml:"compileOptions"`
	BuildTypes     map[string]BuildTypeDTO     `yaml:"buildTypes"`
	SigningConfigs map[string]SigningConfigDTO `yaml:"signingConfigs"`
	Splits         SplitsDTO                   `yaml:"splits"`
	Repositories   []RepositoryDTO             `yaml:"repositories"`
	Dependencies   []DependencyDTO             `yaml:"dependencies"`
	Sources        SourcesDTO                  `yaml:"sources"`
}

// DefaultConfigDTO holds the identity and SDK bounds shared by all variants.
type DefaultConfigDTO struct {
	ApplicationID        string            `yaml:"applicationId"`
	MinSDK               int               `yaml:"minSdk"`
	TargetSDK            int               `yaml:"targetSdk"`
	VersionCode          int               `yaml:"versionCode"`
	VersionName          string            `yaml:"versionName"`
	MultiDexEnabled      bool              `yaml:"multiDexEnabled"`
	NDK                  NDKDTO            `yaml:"ndk"`
	ManifestPlaceholders map[string]string `yaml:"manifestPlaceholders"`
}

// NDKDTO restricts bundled native code.
type NDKDTO struct {
	ABIFilters []string `yaml:"abiFilters"`
}

// CompileOptionsDTO holds the Java language levels and the compiler command.
type CompileOptionsDTO struct {
	SourceCompatibility          string   `yaml:"sourceCompatibility"`
	TargetCompatibility          string   `yaml:"targetCompatibility"`
	CoreLibraryDesugaringEnabled bool     `yaml:"coreLibraryDesugaringEnabled"`
	Command                      []string `yaml:"command"`
}

// BuildTypeDTO represents a build variant. Unset fields keep the built-in values.
type BuildTypeDTO struct {
	MinifyEnabled   *bool    `yaml:"minifyEnabled"`
	ShrinkResources *bool    `yaml:"shrinkResources"`
	ProguardFiles   []string `yaml:"proguardFiles"`
	SigningConfig   *string  `yaml:"signingConfig"`
	Debuggable      *bool    `yaml:"debuggable"`
}

// SigningConfigDTO names an armored OpenPGP private key.
type SigningConfigDTO struct {
	KeyFile       string `yaml:"keyFile"`
	PassphraseEnv string `yaml:"passphraseEnv"`
}

// SplitsDTO controls per-ABI packaging.
type SplitsDTO struct {
	ABI ABISplitDTO `yaml:"abi"`
}

// ABISplitDTO mirrors the abi block of splits.
type ABISplitDTO struct {
	Enable       bool     `yaml:"enable"`
	Include      []string `yaml:"include"`
	UniversalApk bool     `yaml:"universalApk"`
}

// RepositoryDTO is a single-key mapping naming the repository kind.
type RepositoryDTO struct {
	FlatDir *FlatDirDTO `yaml:"flatDir"`
	Maven   *MavenDTO   `yaml:"maven"`
}

// FlatDirDTO is a directory repository with unversioned layout.
type FlatDirDTO struct {
	Dirs []string `yaml:"dirs"`
}

// MavenDTO is a repository with the standard maven layout.
type MavenDTO struct {
	URL string `yaml:"url"`
}

// DependencyDTO is a single-key mapping from configuration to either a
// module notation or a files block.
type DependencyDTO struct {
	Configuration string
	Notation      string
	Files         []string
	Line          int
}

// UnmarshalYAML decodes `implementation: group:artifact:version` and
// `implementation: {files: [...]}`.
func (d *DependencyDTO) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return zerr.With(zerr.New("dependency must map one configuration to a module or files"), "line", node.Line)
	}
	key, value := node.Content[0], node.Content[1]
	d.Configuration = key.Value
	d.Line = key.Line

	switch value.Kind {
	case yaml.ScalarNode:
		d.Notation = value.Value
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			field := value.Content[i]
			if field.Value != "files" {
				return zerr.With(zerr.New("field "+field.Value+" not allowed in a files block"), "line", field.Line)
			}
			if err := value.Content[i+1].Decode(&d.Files); err != nil {
				return err
			}
		}
		return nil
	default:
		return zerr.With(zerr.New("dependency must be a module notation or a files block"), "line", value.Line)
	}
}

// SourcesDTO overrides the default source locations.
type SourcesDTO struct {
	Manifest  string `yaml:"manifest"`
	Classes   string `yaml:"classes"`
	Java      string `yaml:"java"`
	Resources string `yaml:"res"`
	JNILibs   string `yaml:"jniLibs"`
}
