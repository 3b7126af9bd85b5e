// Package config provides the build descriptor loader for apkforge.
package config

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// Default source locations, relative to the project root.
const (
	DefaultManifestPath  = "src/main/AndroidManifest.xml"
	DefaultClassesDir    = "src/main/classes"
	DefaultJavaDir       = "src/main/java"
	DefaultResourcesDir  = "src/main/res"
	DefaultJNILibsDir    = "src/main/jniLibs"
	defaultModuleName    = "app"
	multiDexNativeMinSDK = 21
)

var _ ports.DescriptorLoader = (*Loader)(nil)

// Loader implements ports.DescriptorLoader using a YAML file.
type Loader struct {
	Logger ports.Logger
}

// NewLoader creates a new Loader with the given logger.
func NewLoader(logger ports.Logger) *Loader {
	return &Loader{Logger: logger}
}

// Load finds, decodes, normalizes and validates the descriptor. cwd is either
// a directory to search upwards from or the descriptor file itself.
func (l *Loader) Load(cwd string) (*domain.Descriptor, error) {
	path, err := l.findDescriptor(cwd)
	if err != nil {
		return nil, err
	}

	var dto Descriptor
	var doc yaml.Node
	if err := readAndUnmarshalYAML(path, &dto, &doc); err != nil {
		return nil, err
	}

	desc, err := l.toDomain(&dto, path)
	if err == nil {
		err = desc.Validate()
	}
	if err == nil {
		err = checkFiles(desc)
	}
	if err != nil {
		return nil, annotate(err, path, &doc)
	}

	if desc.MultiDex && desc.SDK.MinSDK >= multiDexNativeMinSDK {
		l.Logger.Warn(fmt.Sprintf("multiDexEnabled has no effect with minSdk %d", desc.SDK.MinSDK))
	}

	return desc, nil
}

// DiscoverRoot walks up from cwd to the directory holding the descriptor.
func (l *Loader) DiscoverRoot(cwd string) (string, error) {
	path, err := l.findDescriptor(cwd)
	if err != nil {
		return "", err
	}
	return filepath.Dir(path), nil
}

func (l *Loader) findDescriptor(cwd string) (string, error) {
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return "", zerr.Wrap(err, domain.ErrFailedToGetRoot.Error())
	}

	if info, statErr := os.Stat(abs); statErr == nil && !info.IsDir() {
		return abs, nil
	}

	currentDir := abs
	for {
		candidate := filepath.Join(currentDir, domain.DescriptorFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			break
		}
		currentDir = parentDir
	}

	return "", domain.Classify(domain.ErrConfiguration, zerr.With(zerr.Wrap(domain.ErrConfigNotFound, "no descriptor found"), "cwd", cwd))
}

func (l *Loader) toDomain(dto *Descriptor, path string) (*domain.Descriptor, error) {
	dc := dto.DefaultConfig
	desc := &domain.Descriptor{
		Name:          cmp.Or(dto.Name, defaultModuleName),
		Root:          filepath.Dir(path),
		Path:          path,
		Namespace:     cmp.Or(dto.Namespace, dc.ApplicationID),
		ApplicationID: dc.ApplicationID,
		VersionCode:   dc.VersionCode,
		VersionName:   cmp.Or(dc.VersionName, strconv.Itoa(dc.VersionCode)),
		SDK: domain.SDKVersions{
			MinSDK:    dc.MinSDK,
			TargetSDK: cmp.Or(dc.TargetSDK, dc.MinSDK),
		},
		MultiDex:             dc.MultiDexEnabled,
		ABIFilters:           toABIs(dc.NDK.ABIFilters),
		ManifestPlaceholders: dc.ManifestPlaceholders,
		Splits: domain.Splits{ABI: domain.ABISplit{
			Enable:    dto.Splits.ABI.Enable,
			Include:   toABIs(dto.Splits.ABI.Include),
			Universal: dto.Splits.ABI.UniversalApk,
		}},
		Sources: domain.Sources{
			Manifest:  cmp.Or(dto.Sources.Manifest, DefaultManifestPath),
			Classes:   cmp.Or(dto.Sources.Classes, DefaultClassesDir),
			Java:      cmp.Or(dto.Sources.Java, DefaultJavaDir),
			Resources: cmp.Or(dto.Sources.Resources, DefaultResourcesDir),
			JNILibs:   cmp.Or(dto.Sources.JNILibs, DefaultJNILibsDir),
		},
	}
	desc.SDK.CompileSDK = cmp.Or(dto.CompileSDK, desc.SDK.TargetSDK)

	opts, err := toCompileOptions(dto.CompileOptions)
	if err != nil {
		return nil, err
	}
	desc.CompileOptions = opts

	desc.BuildTypes = toBuildTypes(dto.BuildTypes)
	desc.SigningConfigs = toSigningConfigs(dto.SigningConfigs)

	if desc.Repositories, err = toRepositories(dto.Repositories); err != nil {
		return nil, err
	}
	if desc.Dependencies, err = toDependencies(dto.Dependencies); err != nil {
		return nil, err
	}
	return desc, nil
}

func toCompileOptions(dto CompileOptionsDTO) (domain.CompileOptions, error) {
	opts := domain.CompileOptions{
		SourceCompatibility:   domain.Java8,
		TargetCompatibility:   domain.Java8,
		CoreLibraryDesugaring: dto.CoreLibraryDesugaringEnabled,
		Command:               dto.Command,
	}
	if dto.SourceCompatibility != "" {
		level, err := domain.ParseJavaLevel(dto.SourceCompatibility)
		if err != nil {
			return opts, zerr.With(err, "option", "compileOptions.sourceCompatibility")
		}
		opts.SourceCompatibility = level
	}
	if dto.TargetCompatibility != "" {
		level, err := domain.ParseJavaLevel(dto.TargetCompatibility)
		if err != nil {
			return opts, zerr.With(err, "option", "compileOptions.targetCompatibility")
		}
		opts.TargetCompatibility = level
	}
	return opts, nil
}

// toBuildTypes overlays declared build types on the built-in debug and release types.
func toBuildTypes(dtos map[string]BuildTypeDTO) map[string]domain.BuildType {
	types := map[string]domain.BuildType{
		domain.VariantDebug: {
			Name:          domain.VariantDebug,
			Debuggable:    true,
			SigningConfig: domain.SigningDebug,
		},
		domain.VariantRelease: {
			Name: domain.VariantRelease,
		},
	}
	for name, dto := range dtos {
		bt := types[name]
		bt.Name = name
		if dto.MinifyEnabled != nil {
			bt.Minify = *dto.MinifyEnabled
		}
		if dto.ShrinkResources != nil {
			bt.ShrinkResources = *dto.ShrinkResources
		}
		if dto.ProguardFiles != nil {
			bt.ProguardFiles = dto.ProguardFiles
		}
		if dto.SigningConfig != nil {
			bt.SigningConfig = *dto.SigningConfig
		}
		if dto.Debuggable != nil {
			bt.Debuggable = *dto.Debuggable
		}
		types[name] = bt
	}
	return types
}

func toSigningConfigs(dtos map[string]SigningConfigDTO) map[string]domain.SigningConfig {
	configs := make(map[string]domain.SigningConfig, len(dtos))
	for name, dto := range dtos {
		configs[name] = domain.SigningConfig{
			Name:          name,
			KeyFile:       dto.KeyFile,
			PassphraseEnv: dto.PassphraseEnv,
		}
	}
	return configs
}

func toRepositories(dtos []RepositoryDTO) ([]domain.Repository, error) {
	repos := make([]domain.Repository, 0, len(dtos))
	for i, dto := range dtos {
		option := fmt.Sprintf("repositories[%d]", i)
		switch {
		case dto.FlatDir != nil && dto.Maven == nil:
			repos = append(repos, domain.Repository{Kind: domain.RepositoryFlatDir, Dirs: dto.FlatDir.Dirs})
		case dto.Maven != nil && dto.FlatDir == nil:
			repos = append(repos, domain.Repository{Kind: domain.RepositoryMaven, URL: dto.Maven.URL})
		default:
			return nil, zerr.With(
				zerr.Wrap(domain.ErrConfiguration, option+": must declare exactly one of flatDir or maven"),
				"option", option,
			)
		}
	}
	return repos, nil
}

func toDependencies(dtos []DependencyDTO) ([]domain.Dependency, error) {
	deps := make([]domain.Dependency, 0, len(dtos))
	for i, dto := range dtos {
		dep := domain.Dependency{Configuration: dto.Configuration, Files: dto.Files}
		if dto.Notation != "" {
			coord, err := domain.ParseCoordinate(dto.Notation)
			if err != nil {
				return nil, zerr.With(err, "option", fmt.Sprintf("dependencies[%d]", i))
			}
			dep.Module = &coord
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

func toABIs(values []string) []domain.ABI {
	abis := make([]domain.ABI, len(values))
	for i, v := range values {
		abis[i] = domain.ABI(v)
	}
	return domain.NormalizeABIs(abis)
}

// checkFiles verifies descriptor references that need the file system.
func checkFiles(desc *domain.Descriptor) error {
	builtins := []string{domain.DefaultRulesOptimize, domain.DefaultRules}
	for _, name := range desc.VariantNames() {
		for _, file := range desc.BuildTypes[name].ProguardFiles {
			if slices.Contains(builtins, file) {
				continue
			}
			if _, err := os.Stat(filepath.Join(desc.Root, file)); err != nil {
				option := "buildTypes." + name + ".proguardFiles"
				return zerr.With(zerr.With(
					zerr.Wrap(domain.ErrConfiguration, option+": rule file "+file+" does not exist"),
					"option", option),
					"path", file,
				)
			}
		}
	}
	return nil
}

// annotate attaches the descriptor file and, when known, the line of the
// offending option to a configuration error.
func annotate(err error, path string, doc *yaml.Node) error {
	err = zerr.With(err, "file", path)

	var zErr *zerr.Error
	if !errors.As(err, &zErr) {
		return err
	}
	option, ok := zErr.Metadata()["option"].(string)
	if !ok {
		return err
	}
	if line := lineOf(doc, option); line > 0 {
		err = zerr.With(err, "line", line)
	}
	return err
}

// lineOf returns the line of the node an option path like
// "buildTypes.release.minifyEnabled" or "dependencies[2]" points to, or of
// its closest existing ancestor.
func lineOf(doc *yaml.Node, option string) int {
	if doc == nil || len(doc.Content) == 0 {
		return 0
	}
	node := doc.Content[0]
	line := node.Line

	for _, segment := range strings.Split(option, ".") {
		key, index := splitIndex(segment)
		if node.Kind != yaml.MappingNode {
			return line
		}
		next := mappingValue(node, key)
		if next == nil {
			return line
		}
		line, node = next.key.Line, next.value
		if index >= 0 {
			if node.Kind != yaml.SequenceNode || index >= len(node.Content) {
				return line
			}
			node = node.Content[index]
			line = node.Line
		}
	}
	return line
}

type mappingEntry struct {
	key   *yaml.Node
	value *yaml.Node
}

func mappingValue(node *yaml.Node, key string) *mappingEntry {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return &mappingEntry{key: node.Content[i], value: node.Content[i+1]}
		}
	}
	return nil
}

func splitIndex(segment string) (string, int) {
	open := strings.IndexByte(segment, '[')
	if open < 0 || !strings.HasSuffix(segment, "]") {
		return segment, -1
	}
	index, err := strconv.Atoi(segment[open+1 : len(segment)-1])
	if err != nil {
		return segment, -1
	}
	return segment[:open], index
}

// readAndUnmarshalYAML reads a YAML file into target, rejecting unknown
// fields, and keeps the node tree for line lookups.
func readAndUnmarshalYAML[T any](path string, target *T, doc *yaml.Node) error {
	// #nosec G304 -- path is discovered or given by the user
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Classify(domain.ErrConfiguration,
			zerr.With(zerr.Wrap(err, domain.ErrConfigReadFailed.Error()), "file", path))
	}

	if err := yaml.Unmarshal(data, doc); err != nil {
		return domain.Classify(domain.ErrConfiguration,
			zerr.With(zerr.Wrap(err, domain.ErrConfigParseFailed.Error()), "file", path))
	}
	if doc.Kind == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return domain.Classify(domain.ErrConfiguration,
			zerr.With(zerr.Wrap(err, domain.ErrConfigParseFailed.Error()), "file", path))
	}
	return nil
}
