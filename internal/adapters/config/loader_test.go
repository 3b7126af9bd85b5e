package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/apkforge/internal/adapters/config"
	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports/mocks"
	"go.trai.ch/zerr"
	"go.uber.org/mock/gomock"
)

const fullDescriptor = `
name: app
namespace: com.example.flutter_app
compileSdk: 34
defaultConfig:
  applicationId: com.example.flutter_app
  minSdk: 24
  targetSdk: 34
  versionCode: 7
  versionName: "1.4.0"
  ndk:
    abiFilters: [armeabi-v7a, arm64-v8a, arm64-v8a]
  manifestPlaceholders:
    appAuthRedirectScheme: com.example
compileOptions:
  sourceCompatibility: VERSION_17
  targetCompatibility: "17"
  coreLibraryDesugaringEnabled: true
buildTypes:
  release:
    minifyEnabled: true
    shrinkResources: true
    proguardFiles: [proguard-android-optimize.txt, proguard-rules.pro]
    signingConfig: upload
signingConfigs:
  upload:
    keyFile: keys/upload.asc
    passphraseEnv: UPLOAD_PASSPHRASE
splits:
  abi:
    enable: true
    include: [arm64-v8a, armeabi-v7a]
    universalApk: true
repositories:
  - flatDir:
      dirs: [libs]
  - maven:
      url: https://repo.maven.apache.org/maven2
dependencies:
  - implementation:
      files: [libs/gobackend.aar]
  - implementation: androidx.window:window:1.2.0
  - implementation: com.google.code.gson:gson:^2.10
  - coreLibraryDesugaring: com.android.tools:desugar_jdk_libs:2.0.4
`

func writeProject(t *testing.T, descriptor string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, domain.DescriptorFileName), []byte(descriptor), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "proguard-rules.pro"), []byte("-keep class com.example.**\n"), 0o600))
	return dir
}

func newLoader(t *testing.T) *config.Loader {
	t.Helper()
	ctrl := gomock.NewController(t)
	return config.NewLoader(mocks.NewMockLogger(ctrl))
}

func TestLoader_Load_FullDescriptor(t *testing.T) {
	dir := writeProject(t, fullDescriptor)

	desc, err := newLoader(t).Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "app", desc.Name)
	assert.Equal(t, dir, desc.Root)
	assert.Equal(t, "com.example.flutter_app", desc.ApplicationID)
	assert.Equal(t, 7, desc.VersionCode)
	assert.Equal(t, "1.4.0", desc.VersionName)
	assert.Equal(t, domain.SDKVersions{MinSDK: 24, TargetSDK: 34, CompileSDK: 34}, desc.SDK)
	assert.Equal(t, domain.Java17, desc.CompileOptions.SourceCompatibility)
	assert.Equal(t, domain.Java17, desc.CompileOptions.TargetCompatibility)
	assert.True(t, desc.CompileOptions.CoreLibraryDesugaring)

	// ABI lists are sorted and deduplicated.
	assert.Equal(t, []domain.ABI{domain.ABIArm64V8a, domain.ABIArmeabiV7a}, desc.ABIFilters)
	assert.Equal(t, []domain.ABI{domain.ABIArm64V8a, domain.ABIArmeabiV7a}, desc.Splits.ABI.Include)
	assert.True(t, desc.Splits.ABI.Universal)

	release := desc.BuildTypes["release"]
	assert.True(t, release.Minify)
	assert.True(t, release.ShrinkResources)
	assert.Equal(t, "upload", release.SigningConfig)
	assert.False(t, release.Debuggable)

	debug := desc.BuildTypes["debug"]
	assert.True(t, debug.Debuggable)
	assert.Equal(t, domain.SigningDebug, debug.SigningConfig)

	require.Len(t, desc.Repositories, 2)
	assert.Equal(t, domain.RepositoryFlatDir, desc.Repositories[0].Kind)
	assert.Equal(t, []string{"libs"}, desc.Repositories[0].Dirs)
	assert.Equal(t, domain.RepositoryMaven, desc.Repositories[1].Kind)

	require.Len(t, desc.Dependencies, 4)
	assert.Equal(t, []string{"libs/gobackend.aar"}, desc.Dependencies[0].Files)
	assert.Equal(t, "androidx.window:window:1.2.0", desc.Dependencies[1].Module.String())
	assert.Equal(t, "^2.10", desc.Dependencies[2].Module.Version)
	assert.Equal(t, domain.ConfigCoreLibraryDesugaring, desc.Dependencies[3].Configuration)

	assert.Equal(t, config.DefaultManifestPath, desc.Sources.Manifest)
	assert.Equal(t, "com.example", desc.ManifestPlaceholders["appAuthRedirectScheme"])
}

func TestLoader_Load_Defaults(t *testing.T) {
	dir := writeProject(t, `
defaultConfig:
  applicationId: com.example.min
  minSdk: 21
  versionCode: 1
`)

	desc, err := newLoader(t).Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "app", desc.Name)
	assert.Equal(t, "com.example.min", desc.Namespace)
	assert.Equal(t, "1", desc.VersionName)
	assert.Equal(t, 21, desc.SDK.TargetSDK)
	assert.Equal(t, 21, desc.SDK.CompileSDK)
	assert.Equal(t, domain.Java8, desc.CompileOptions.TargetCompatibility)
	assert.ElementsMatch(t, []string{"debug", "release"}, desc.VariantNames())
	assert.False(t, desc.Splits.ABI.Enable)
}

func TestLoader_Load_Discovery(t *testing.T) {
	dir := writeProject(t, fullDescriptor)
	nested := filepath.Join(dir, "src", "main", "java")
	require.NoError(t, os.MkdirAll(nested, 0o750))

	loader := newLoader(t)
	desc, err := loader.Load(nested)
	require.NoError(t, err)
	assert.Equal(t, dir, desc.Root)

	root, err := loader.DiscoverRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, dir, root)

	byFile, err := loader.Load(filepath.Join(dir, domain.DescriptorFileName))
	require.NoError(t, err)
	assert.Equal(t, dir, byFile.Root)
}

func TestLoader_Load_NotFound(t *testing.T) {
	_, err := newLoader(t).Load(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfigNotFound))
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestLoader_Load_ParseError(t *testing.T) {
	dir := writeProject(t, "defaultConfig: [unclosed\n")

	_, err := newLoader(t).Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
	assert.Contains(t, err.Error(), domain.ErrConfigParseFailed.Error())
}

func TestLoader_Load_MinSdkAboveTargetSdkReportsLine(t *testing.T) {
	dir := writeProject(t, `defaultConfig:
  applicationId: com.example.app
  versionCode: 1
  minSdk: 30
  targetSdk: 21
`)

	_, err := newLoader(t).Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))

	var zErr *zerr.Error
	require.True(t, errors.As(err, &zErr))
	meta := zErr.Metadata()
	assert.Equal(t, "defaultConfig.minSdk", meta["option"])
	assert.Equal(t, 4, meta["line"])
	assert.Equal(t, filepath.Join(dir, domain.DescriptorFileName), meta["file"])
}

func TestLoader_Load_MissingProguardFile(t *testing.T) {
	dir := writeProject(t, `defaultConfig:
  applicationId: com.example.app
  versionCode: 1
  minSdk: 21
buildTypes:
  release:
    minifyEnabled: true
    proguardFiles: [proguard-android.txt, missing-rules.pro]
`)

	_, err := newLoader(t).Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
	assert.Contains(t, err.Error(), "missing-rules.pro")

	var zErr *zerr.Error
	require.True(t, errors.As(err, &zErr))
	assert.Equal(t, 8, zErr.Metadata()["line"])
}

func TestLoader_Load_BadDependencyNotation(t *testing.T) {
	dir := writeProject(t, `defaultConfig:
  applicationId: com.example.app
  versionCode: 1
  minSdk: 21
dependencies:
  - implementation: androidx.window:window:1.2.0
  - implementation: gson
`)

	_, err := newLoader(t).Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))

	var zErr *zerr.Error
	require.True(t, errors.As(err, &zErr))
	assert.Equal(t, "dependencies[1]", zErr.Metadata()["option"])
	assert.Equal(t, 7, zErr.Metadata()["line"])
}

func TestLoader_Load_RepositoryWithTwoKinds(t *testing.T) {
	dir := writeProject(t, `defaultConfig:
  applicationId: com.example.app
  versionCode: 1
  minSdk: 21
repositories:
  - flatDir: {dirs: [libs]}
    maven: {url: https://example.com}
`)

	_, err := newLoader(t).Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
	assert.Contains(t, err.Error(), "repositories[0]")
}

func TestLoader_Load_MultiDexWarning(t *testing.T) {
	dir := writeProject(t, `defaultConfig:
  applicationId: com.example.app
  versionCode: 1
  minSdk: 23
  multiDexEnabled: true
`)

	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Warn("multiDexEnabled has no effect with minSdk 23").Times(1)

	desc, err := config.NewLoader(log).Load(dir)
	require.NoError(t, err)
	assert.True(t, desc.MultiDex)
}

func TestLoader_Load_UnknownField(t *testing.T) {
	tests := []struct {
		name       string
		descriptor string
		want       string
	}{
		{
			name: "misspelled build type option",
			descriptor: `defaultConfig:
  applicationId: com.example.app
  versionCode: 1
  minSdk: 21
buildTypes:
  release:
    isMinifyEnabled: true
`,
			want: "isMinifyEnabled",
		},
		{
			name: "unknown key in files block",
			descriptor: `defaultConfig:
  applicationId: com.example.app
  versionCode: 1
  minSdk: 21
dependencies:
  - implementation:
      file: [libs/gobackend.aar]
`,
			want: "file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeProject(t, tt.descriptor)

			_, err := newLoader(t).Load(dir)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfiguration))
			assert.Contains(t, err.Error(), domain.ErrConfigParseFailed.Error())
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
