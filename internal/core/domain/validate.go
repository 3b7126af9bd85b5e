package domain

import (
	"fmt"
	"regexp"
	"slices"

	"go.trai.ch/zerr"
)

var packageNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z][A-Za-z0-9_]*)+$`)

// configError reports a descriptor problem against the option it concerns.
func configError(option, format string, args ...any) error {
	return zerr.With(zerr.Wrap(ErrConfiguration, option+": "+fmt.Sprintf(format, args...)), "option", option)
}

// Validate checks the descriptor invariants that do not need the file system.
// Every violation names the offending option. Violations are ErrConfiguration,
// except split architectures the toolchain cannot build, which are
// ErrPackaging as Scopes reports them.
func (d *Descriptor) Validate() error {
	checks := []func() error{
		d.validateIdentity,
		d.validateSDK,
		d.validateCompileOptions,
		d.validateABIs,
		d.validateBuildTypes,
		d.validateRepositories,
		d.validateDependencies,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Descriptor) validateIdentity() error {
	if d.ApplicationID == "" {
		return configError("defaultConfig.applicationId", "must be set")
	}
	if !packageNamePattern.MatchString(d.ApplicationID) {
		return configError("defaultConfig.applicationId", "%q is not a dot separated package name", d.ApplicationID)
	}
	if d.Namespace != "" && !packageNamePattern.MatchString(d.Namespace) {
		return configError("namespace", "%q is not a dot separated package name", d.Namespace)
	}
	if d.VersionCode <= 0 {
		return configError("defaultConfig.versionCode", "must be greater than zero, got %d", d.VersionCode)
	}
	return nil
}

func (d *Descriptor) validateSDK() error {
	sdk := d.SDK
	if sdk.MinSDK < 1 {
		return configError("defaultConfig.minSdk", "must be at least 1, got %d", sdk.MinSDK)
	}
	if sdk.MinSDK > sdk.TargetSDK {
		return configError("defaultConfig.minSdk", "minSdk %d is greater than targetSdk %d", sdk.MinSDK, sdk.TargetSDK)
	}
	if sdk.TargetSDK > sdk.CompileSDK {
		return configError("compileSdk", "targetSdk %d is greater than compileSdk %d", sdk.TargetSDK, sdk.CompileSDK)
	}
	return nil
}

func (d *Descriptor) validateCompileOptions() error {
	opts := d.CompileOptions
	if opts.SourceCompatibility > opts.TargetCompatibility {
		return configError("compileOptions.sourceCompatibility",
			"source level %s is newer than target level %s", opts.SourceCompatibility, opts.TargetCompatibility)
	}

	desugaring := d.DependenciesOf(ConfigCoreLibraryDesugaring)
	switch {
	case opts.CoreLibraryDesugaring && len(desugaring) == 0:
		return configError("compileOptions.coreLibraryDesugaringEnabled",
			"desugaring is enabled but no %s dependency is declared", ConfigCoreLibraryDesugaring)
	case !opts.CoreLibraryDesugaring && len(desugaring) > 0:
		return configError("dependencies",
			"%s dependency %s requires compileOptions.coreLibraryDesugaringEnabled",
			ConfigCoreLibraryDesugaring, desugaring[0])
	}
	return nil
}

func (d *Descriptor) validateABIs() error {
	for _, abi := range d.ABIFilters {
		if !abi.Known() {
			return configError("defaultConfig.ndk.abiFilters", "unknown ABI %q", abi)
		}
	}
	split := d.Splits.ABI
	if !split.Enable {
		return nil
	}
	for _, abi := range split.Include {
		if !abi.Known() {
			return zerr.With(zerr.With(
				zerr.Wrap(ErrPackaging, fmt.Sprintf("splits.abi.include: architecture %q is not supported by the toolchain", abi)),
				"option", "splits.abi.include"),
				"abi", abi.String(),
			)
		}
		if len(d.ABIFilters) > 0 && !slices.Contains(d.ABIFilters, abi) {
			return configError("splits.abi.include", "%s is excluded by defaultConfig.ndk.abiFilters", abi)
		}
	}
	return nil
}

func (d *Descriptor) validateBuildTypes() error {
	for _, name := range d.VariantNames() {
		bt := d.BuildTypes[name]
		option := "buildTypes." + name
		if bt.ShrinkResources && !bt.Minify {
			return configError(option+".shrinkResources", "resource shrinking requires minifyEnabled")
		}
		if bt.SigningConfig != "" {
			if _, ok := d.SigningConfigFor(bt); !ok {
				return configError(option+".signingConfig", "unknown signing config %q", bt.SigningConfig)
			}
		}
	}
	for name, sc := range d.SigningConfigs {
		if name != SigningDebug && sc.KeyFile == "" {
			return configError("signingConfigs."+name+".keyFile", "must be set")
		}
	}
	return nil
}

func (d *Descriptor) validateRepositories() error {
	for i, repo := range d.Repositories {
		option := fmt.Sprintf("repositories[%d]", i)
		switch repo.Kind {
		case RepositoryFlatDir:
			if len(repo.Dirs) == 0 {
				return configError(option+".dirs", "flatDir repository needs at least one directory")
			}
		case RepositoryMaven:
			if repo.URL == "" {
				return configError(option+".url", "maven repository needs a url")
			}
		default:
			return configError(option, "unknown repository kind %q", repo.Kind)
		}
	}
	return nil
}

func (d *Descriptor) validateDependencies() error {
	for i, dep := range d.Dependencies {
		option := fmt.Sprintf("dependencies[%d]", i)
		if dep.Configuration != ConfigImplementation && dep.Configuration != ConfigCoreLibraryDesugaring {
			return configError(option, "unknown configuration %q", dep.Configuration)
		}
		if (dep.Module == nil) == (len(dep.Files) == 0) {
			return configError(option, "exactly one of module or files must be set")
		}
		for _, f := range dep.Files {
			if ArchiveKind(f) == "" {
				return configError(option+".files", "%s is neither an .aar nor a .jar archive", f)
			}
		}
	}
	return nil
}
