package app_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/apkforge/internal/adapters/cas"
	"go.trai.ch/apkforge/internal/adapters/classfile"
	"go.trai.ch/apkforge/internal/adapters/classfile/classfiletest"
	"go.trai.ch/apkforge/internal/adapters/config"
	"go.trai.ch/apkforge/internal/adapters/fs"
	"go.trai.ch/apkforge/internal/adapters/logger"
	"go.trai.ch/apkforge/internal/adapters/manifest"
	"go.trai.ch/apkforge/internal/adapters/packager"
	"go.trai.ch/apkforge/internal/adapters/repository"
	"go.trai.ch/apkforge/internal/adapters/shell"
	"go.trai.ch/apkforge/internal/adapters/shrinker"
	"go.trai.ch/apkforge/internal/adapters/signing"
	"go.trai.ch/apkforge/internal/adapters/telemetry"
	"go.trai.ch/apkforge/internal/app"
	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/apkforge/internal/core/ports/mocks"
	"go.trai.ch/apkforge/internal/engine/pipeline"
	"go.trai.ch/apkforge/internal/engine/scheduler"
	"go.uber.org/mock/gomock"
)

const descriptor = `
name: app
namespace: com.example.app
compileSdk: 34
defaultConfig:
  applicationId: com.example.app
  minSdk: 24
  targetSdk: 34
  versionCode: 3
compileOptions:
  targetCompatibility: VERSION_17
buildTypes:
  debug:
    signingConfig: ""
repositories:
  - flatDir:
      dirs: [libs]
dependencies:
  - implementation:
      files: [libs/gobackend.aar]
`

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func writeClass(t *testing.T, root string, c classfiletest.Class) {
	t.Helper()
	rel := filepath.Join(config.DefaultClassesDir, filepath.FromSlash(domain.ClassPath(c.Name)))
	writeFile(t, root, rel, classfiletest.Build(c))
}

func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, domain.DescriptorFileName, []byte(descriptor))
	writeClass(t, root, classfiletest.Class{Name: "com.example.app.MainActivity"})

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("jni/arm64-v8a/libgojni.so")
	require.NoError(t, err)
	_, err = w.Write([]byte("arm64"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	writeFile(t, root, "libs/gobackend.aar", buf.Bytes())
	return root
}

func newApp(t *testing.T, log ports.Logger) *app.App {
	t.Helper()
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
	sched := scheduler.NewScheduler(cas.NewStore(), fs.NewHasher(fs.NewWalker()), fs.NewResolver(), telemetry.NewNoop())
	return app.New(config.NewLoader(log), pl, sched, telemetry.NewNoop(), log)
}

func quietLogger(t *testing.T) *mocks.MockLogger {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Info(gomock.Any()).AnyTimes()
	log.EXPECT().Warn(gomock.Any()).AnyTimes()
	return log
}

func TestApp_Build_DefaultVariant(t *testing.T) {
	root := setupProject(t)
	a := newApp(t, quietLogger(t))

	err := a.Build(context.Background(), app.BuildOptions{Config: root, Jobs: 2})
	require.NoError(t, err)

	out := filepath.Join(root, domain.NewVariantLayout(domain.VariantDebug).OutputDir())
	assert.FileExists(t, filepath.Join(out, "app-debug-unsigned.apk"))
	assert.FileExists(t, filepath.Join(out, domain.OutputMetadataFileName))
	assert.NoDirExists(t, filepath.Join(root, domain.NewVariantLayout(domain.VariantRelease).OutputDir()))
}

func TestApp_Build_FailureRemovesOutputs(t *testing.T) {
	root := setupProject(t)
	a := newApp(t, quietLogger(t))
	opts := app.BuildOptions{Config: root, Variants: []string{domain.VariantRelease}}

	require.NoError(t, a.Build(context.Background(), opts))
	out := filepath.Join(root, domain.NewVariantLayout(domain.VariantRelease).OutputDir())
	require.FileExists(t, filepath.Join(out, "app-release-unsigned.apk"))

	writeClass(t, root, classfiletest.Class{Name: "com.example.app.Future", Major: 65})

	err := a.Build(context.Background(), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCompilation)
	assert.Contains(t, err.Error(), "build of release failed")
	assert.NoDirExists(t, out)
}

func TestApp_Build_UnknownVariant(t *testing.T) {
	root := setupProject(t)
	a := newApp(t, quietLogger(t))

	err := a.Build(context.Background(), app.BuildOptions{Config: root, Variants: []string{"staging"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownVariant)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestApp_Build_InvalidDescriptor(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, domain.DescriptorFileName, []byte(`
defaultConfig:
  applicationId: com.example.app
  minSdk: 30
  targetSdk: 24
`))
	a := newApp(t, quietLogger(t))

	err := a.Build(context.Background(), app.BuildOptions{Config: root})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "failed to load descriptor")
}

func TestApp_Check(t *testing.T) {
	root := setupProject(t)
	a := newApp(t, quietLogger(t))

	plans, err := a.Check(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, plans, 2)

	assert.Equal(t, domain.VariantDebug, plans[0].Variant)
	assert.False(t, plans[0].Signed)
	assert.Equal(t, []string{filepath.Join("build", "outputs", "apk", "debug", "app-debug-unsigned.apk")}, plans[0].Packages)
	assert.Equal(t, 7, plans[0].Tasks)

	assert.Equal(t, domain.VariantRelease, plans[1].Variant)
	assert.Equal(t, []string{filepath.Join("build", "outputs", "apk", "release", "app-release-unsigned.apk")}, plans[1].Packages)

	assert.NoDirExists(t, filepath.Join(root, domain.BuildDirName), "check does not build")
}

func TestApp_Deps(t *testing.T) {
	root := setupProject(t)
	a := newApp(t, quietLogger(t))

	artifacts, err := a.Deps(context.Background(), app.DepsOptions{Config: root, Offline: true})
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, domain.ConfigImplementation, artifacts[0].Configuration)
	assert.Equal(t, domain.ArchiveAAR, artifacts[0].Kind)
	assert.Equal(t, "libs/gobackend.aar", filepath.ToSlash(artifacts[0].Path))
	assert.Len(t, artifacts[0].SHA256, 64)

	assert.NoDirExists(t, filepath.Join(root, domain.NewVariantLayout(domain.VariantDebug).ClassesDir()),
		"only the resolve stage runs")
}

func TestApp_Clean(t *testing.T) {
	root := setupProject(t)
	writeFile(t, root, "build/outputs/apk/debug/app-debug-unsigned.apk", []byte("apk"))
	writeFile(t, root, ".apkforge/store/debug/compile.json", []byte("{}"))
	a := newApp(t, quietLogger(t))

	require.NoError(t, a.Clean(context.Background(), app.CleanOptions{Config: root}))
	assert.NoDirExists(t, filepath.Join(root, domain.BuildDirName))
	assert.DirExists(t, filepath.Join(root, domain.StateDirName))

	require.NoError(t, a.Clean(context.Background(), app.CleanOptions{Config: root, All: true}))
	assert.NoDirExists(t, filepath.Join(root, domain.StateDirName))
	assert.FileExists(t, filepath.Join(root, domain.DescriptorFileName))
}

func TestApp_SetJSONLog(t *testing.T) {
	log := logger.New()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	a := newApp(t, log)

	a.SetJSONLog(true)
	log.Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}
