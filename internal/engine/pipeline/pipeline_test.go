package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/apkforge/internal/adapters/cas"
	"go.trai.ch/apkforge/internal/adapters/classfile"
	"go.trai.ch/apkforge/internal/adapters/classfile/classfiletest"
	"go.trai.ch/apkforge/internal/adapters/config"
	"go.trai.ch/apkforge/internal/adapters/fs"
	"go.trai.ch/apkforge/internal/adapters/manifest"
	"go.trai.ch/apkforge/internal/adapters/packager"
	"go.trai.ch/apkforge/internal/adapters/repository"
	"go.trai.ch/apkforge/internal/adapters/shell"
	"go.trai.ch/apkforge/internal/adapters/shrinker"
	"go.trai.ch/apkforge/internal/adapters/signing"
	"go.trai.ch/apkforge/internal/adapters/telemetry"
	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports/mocks"
	"go.trai.ch/apkforge/internal/engine/pipeline"
	"go.trai.ch/apkforge/internal/engine/planner"
	"go.trai.ch/apkforge/internal/engine/scheduler"
	"go.uber.org/mock/gomock"
)

const projectDescriptor = `
name: app
namespace: com.example.app
compileSdk: 34
defaultConfig:
  applicationId: com.example.app
  minSdk: 24
  targetSdk: 34
  versionCode: 7
  versionName: "1.4.0"
  ndk:
    abiFilters: [arm64-v8a, armeabi-v7a]
compileOptions:
  sourceCompatibility: VERSION_17
  targetCompatibility: VERSION_17
buildTypes:
  release:
    minifyEnabled: true
    shrinkResources: true
    proguardFiles: [proguard-android-optimize.txt, proguard-rules.pro]
splits:
  abi:
    enable: true
    include: [arm64-v8a, armeabi-v7a]
    universalApk: true
repositories:
  - flatDir:
      dirs: [libs]
dependencies:
  - implementation:
      files: [libs/gobackend.aar]
`

const projectManifest = `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android">
    <application android:label="app" android:icon="@mipmap/ic_launcher">
        <activity android:name=".MainActivity" android:exported="true"/>
    </application>
</manifest>
`

type project struct {
	t    *testing.T
	root string
}

func newProject(t *testing.T, descriptor string) *project {
	t.Helper()
	p := &project{t: t, root: t.TempDir()}
	p.write(domain.DescriptorFileName, []byte(descriptor))
	p.write(config.DefaultManifestPath, []byte(projectManifest))
	p.write("proguard-rules.pro", []byte("# application rules\n"))
	p.write("src/main/res/values/strings.xml", []byte(`<resources><string name="app_name">app</string></resources>`))
	p.write("src/main/res/mipmap/ic_launcher.png", []byte("launcher"))
	p.write("src/main/res/drawable/unused.png", []byte("unused"))
	p.class(classfiletest.Class{
		Name:       "com.example.app.MainActivity",
		Super:      "android.app.Activity",
		References: []string{"com.example.backend.Backend"},
	})
	p.class(classfiletest.Class{Name: "com.example.app.Unused"})
	p.write("libs/gobackend.aar", backendAAR(t, map[string][]byte{}))
	return p
}

func (p *project) write(rel string, data []byte) {
	p.t.Helper()
	path := filepath.Join(p.root, filepath.FromSlash(rel))
	require.NoError(p.t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(p.t, os.WriteFile(path, data, 0o600))
}

func (p *project) class(c classfiletest.Class) {
	p.t.Helper()
	p.write(config.DefaultClassesDir+"/"+strings.ReplaceAll(c.Name, ".", "/")+".class", classfiletest.Build(c))
}

func (p *project) path(rel string) string {
	return filepath.Join(p.root, filepath.FromSlash(rel))
}

func (p *project) build(variant string, noCache bool) error {
	p.t.Helper()
	ctrl := gomock.NewController(p.t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Info(gomock.Any()).AnyTimes()
	log.EXPECT().Warn(gomock.Any()).AnyTimes()

	desc, err := config.NewLoader(log).Load(p.root)
	require.NoError(p.t, err)

	graph, err := planner.Plan(desc, variant)
	require.NoError(p.t, err)

	parser := classfile.NewParser()
	pl := pipeline.New(
		repository.NewResolver(log),
		manifest.NewProcessor(log),
		shell.NewExecutor(log),
		parser,
		shrinker.New(parser, log),
		packager.New(),
		signing.NewSigner(log),
	)
	runner, err := pl.Runner(desc, variant, pipeline.Options{Offline: true})
	require.NoError(p.t, err)

	sched := scheduler.NewScheduler(cas.NewStore(), fs.NewHasher(fs.NewWalker()), fs.NewResolver(), telemetry.NewNoop())
	return sched.Run(context.Background(), graph, runner, scheduler.RunOptions{
		Variant:     variant,
		Parallelism: 4,
		NoCache:     noCache,
	})
}

// backendAAR builds a library archive with a classes.jar holding the
// backend class, native code for three ABIs, and the extra entries.
func backendAAR(t *testing.T, extra map[string][]byte) []byte {
	t.Helper()
	entries := map[string][]byte{
		"AndroidManifest.xml": []byte(`<manifest package="com.example.backend"/>`),
		"classes.jar": zipBytes(t, map[string][]byte{
			"com/example/backend/Backend.class": classfiletest.Build(classfiletest.Class{
				Name: "com.example.backend.Backend",
			}),
			"META-INF/MANIFEST.MF": []byte("Manifest-Version: 1.0\n"),
		}),
		"jni/arm64-v8a/libgojni.so":   []byte("arm64"),
		"jni/armeabi-v7a/libgojni.so": []byte("armv7"),
		"jni/x86_64/libgojni.so":      []byte("x86_64"),
	}
	for name, data := range extra {
		entries[name] = data
	}
	return zipBytes(t, entries)
}

func zipBytes(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func zipEntries(t *testing.T, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() { _ = zr.Close() }()
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func readMetadata(t *testing.T, path string) domain.OutputMetadata {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test output
	require.NoError(t, err)
	var meta domain.OutputMetadata
	require.NoError(t, json.Unmarshal(data, &meta))
	return meta
}

func TestPipeline_ReleaseSplitPackages(t *testing.T) {
	p := newProject(t, projectDescriptor)
	require.NoError(t, p.build(domain.VariantRelease, false))

	out := p.path("build/outputs/apk/release")
	arm64 := zipEntries(t, filepath.Join(out, "app-arm64-v8a-release-unsigned.apk"))
	armv7 := zipEntries(t, filepath.Join(out, "app-armeabi-v7a-release-unsigned.apk"))
	universal := zipEntries(t, filepath.Join(out, "app-universal-release-unsigned.apk"))

	assert.Contains(t, arm64, "lib/arm64-v8a/libgojni.so")
	assert.NotContains(t, arm64, "lib/armeabi-v7a/libgojni.so")
	assert.Contains(t, armv7, "lib/armeabi-v7a/libgojni.so")
	assert.NotContains(t, armv7, "lib/arm64-v8a/libgojni.so")
	assert.Contains(t, universal, "lib/arm64-v8a/libgojni.so")
	assert.Contains(t, universal, "lib/armeabi-v7a/libgojni.so")

	for _, entries := range [][]string{arm64, armv7, universal} {
		assert.NotContains(t, entries, "lib/x86_64/libgojni.so")
		assert.Contains(t, entries, "AndroidManifest.xml")
		assert.Contains(t, entries, "classes/com/example/app/MainActivity.class")
		assert.Contains(t, entries, "classes/com/example/backend/Backend.class")
		assert.NotContains(t, entries, "classes/com/example/app/Unused.class")
		assert.Contains(t, entries, "res/mipmap/ic_launcher.png")
		assert.NotContains(t, entries, "res/drawable/unused.png")
	}

	usage, err := os.ReadFile(p.path("build/intermediates/release/mapping/usage.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(usage), "com.example.app.Unused")

	meta := readMetadata(t, filepath.Join(out, domain.OutputMetadataFileName))
	assert.Equal(t, "com.example.app", meta.ApplicationID)
	assert.Equal(t, domain.VariantRelease, meta.VariantName)
	require.Len(t, meta.Elements, 3)
	for _, el := range meta.Elements {
		assert.Equal(t, 7, el.VersionCode)
		assert.Equal(t, "1.4.0", el.VersionName)
		assert.Len(t, el.SHA256, 64)
		assert.Empty(t, el.Signature)
	}
}

func TestPipeline_RebuildIsByteIdentical(t *testing.T) {
	p := newProject(t, projectDescriptor)
	require.NoError(t, p.build(domain.VariantRelease, false))

	apk := p.path("build/outputs/apk/release/app-universal-release-unsigned.apk")
	first, err := os.ReadFile(apk) //nolint:gosec // test output
	require.NoError(t, err)

	require.NoError(t, p.build(domain.VariantRelease, true))
	second, err := os.ReadFile(apk) //nolint:gosec // test output
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, p.build(domain.VariantRelease, false))
	third, err := os.ReadFile(apk) //nolint:gosec // test output
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestPipeline_DebugPackagesAreSigned(t *testing.T) {
	p := newProject(t, projectDescriptor)
	require.NoError(t, p.build(domain.VariantDebug, false))

	out := p.path("build/outputs/apk/debug")
	for _, name := range []string{"app-arm64-v8a-debug.apk", "app-armeabi-v7a-debug.apk", "app-universal-debug.apk"} {
		assert.FileExists(t, filepath.Join(out, name))
		assert.FileExists(t, filepath.Join(out, name+domain.SignatureSuffix))
	}
	assert.FileExists(t, p.path(domain.DefaultDebugKeyPath()))

	meta := readMetadata(t, filepath.Join(out, domain.OutputMetadataFileName))
	require.Len(t, meta.Elements, 3)
	for _, el := range meta.Elements {
		assert.Equal(t, el.OutputFile+domain.SignatureSuffix, el.Signature)
	}

	// Debug builds do not minify.
	entries := zipEntries(t, filepath.Join(out, "app-universal-debug.apk"))
	assert.Contains(t, entries, "classes/com/example/app/Unused.class")
	assert.Contains(t, entries, "res/drawable/unused.png")
}

func TestPipeline_MissingLocalArchive(t *testing.T) {
	p := newProject(t, projectDescriptor)
	require.NoError(t, os.Remove(p.path("libs/gobackend.aar")))

	err := p.build(domain.VariantRelease, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnresolvedDependency)
	assert.Contains(t, err.Error(), "gobackend.aar")
	assert.NoDirExists(t, p.path("build/intermediates/release/classes"))
	assert.NoDirExists(t, p.path("build/outputs/apk/release"))
}

func TestPipeline_UnavailableModuleIsNamed(t *testing.T) {
	p := newProject(t, projectDescriptor+"  - implementation: androidx.lifecycle:lifecycle-runtime-ktx:2.7.0\n")

	err := p.build(domain.VariantDebug, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnresolvedDependency)
	assert.Contains(t, err.Error(), "androidx.lifecycle:lifecycle-runtime-ktx:2.7.0")
}

func TestPipeline_ClassNewerThanTarget(t *testing.T) {
	p := newProject(t, projectDescriptor)
	p.class(classfiletest.Class{Name: "com.example.app.Future", Major: 65})

	err := p.build(domain.VariantDebug, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCompilation)
	assert.Contains(t, err.Error(), filepath.Join("src", "main", "classes", "com", "example", "app", "Future.class"))
	assert.Contains(t, err.Error(), "Java 21")
	assert.NoFileExists(t, p.path("build/outputs/apk/debug/app-universal-debug.apk"))
}

func TestPipeline_DuplicateClass(t *testing.T) {
	p := newProject(t, projectDescriptor)
	p.class(classfiletest.Class{Name: "com.example.backend.Backend"})

	err := p.build(domain.VariantDebug, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPackaging)
	assert.Contains(t, err.Error(), "duplicate class com.example.backend.Backend")
}

func TestPipeline_ArchiveEntryEscapingStaging(t *testing.T) {
	p := newProject(t, projectDescriptor)
	p.write("libs/gobackend.aar", backendAAR(t, map[string][]byte{
		"res/../../../evil.txt": []byte("evil"),
	}))

	err := p.build(domain.VariantDebug, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPackaging)
	assert.Contains(t, err.Error(), "escapes the staging directory")
	assert.NoFileExists(t, p.path("build/intermediates/evil.txt"))
}

func TestPipeline_LibraryRulesKeepClasses(t *testing.T) {
	p := newProject(t, projectDescriptor)
	p.write("libs/gobackend.aar", backendAAR(t, map[string][]byte{
		"proguard.txt": []byte("-keep class com.example.app.Unused\n"),
	}))
	require.NoError(t, p.build(domain.VariantRelease, false))

	entries := zipEntries(t, p.path("build/outputs/apk/release/app-universal-release-unsigned.apk"))
	assert.Contains(t, entries, "classes/com/example/app/Unused.class")
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e, domain.StagedRulesDir+"/"), "rules must not be packaged: %s", e)
	}
}

func TestPipeline_ApplicationIDDiffersFromNamespace(t *testing.T) {
	descriptor := strings.Replace(projectDescriptor,
		"  applicationId: com.example.app\n", "  applicationId: com.example.app.pro\n", 1)
	p := newProject(t, descriptor)
	require.NoError(t, p.build(domain.VariantRelease, false))

	out := p.path("build/outputs/apk/release")
	entries := zipEntries(t, filepath.Join(out, "app-universal-release-unsigned.apk"))
	assert.Contains(t, entries, "classes/com/example/app/MainActivity.class")
	assert.NotContains(t, entries, "classes/com/example/app/Unused.class")

	meta := readMetadata(t, filepath.Join(out, domain.OutputMetadataFileName))
	assert.Equal(t, "com.example.app.pro", meta.ApplicationID)
}

func TestPipeline_RotatedKeyResigns(t *testing.T) {
	p := newProject(t, projectDescriptor)
	// The first build generates the debug key, which the next plan hashes.
	require.NoError(t, p.build(domain.VariantDebug, false))
	require.NoError(t, p.build(domain.VariantDebug, false))

	sig := p.path("build/outputs/apk/debug/app-universal-debug.apk" + domain.SignatureSuffix)
	first, err := os.ReadFile(sig) //nolint:gosec // test output
	require.NoError(t, err)

	require.NoError(t, p.build(domain.VariantDebug, false))
	cached, err := os.ReadFile(sig) //nolint:gosec // test output
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	other := newProject(t, projectDescriptor)
	require.NoError(t, other.build(domain.VariantDebug, false))
	key, err := os.ReadFile(other.path(domain.DefaultDebugKeyPath()))
	require.NoError(t, err)
	p.write(domain.DefaultDebugKeyPath(), key)

	require.NoError(t, p.build(domain.VariantDebug, false))
	rotated, err := os.ReadFile(sig) //nolint:gosec // test output
	require.NoError(t, err)
	assert.NotEqual(t, first, rotated)
}
