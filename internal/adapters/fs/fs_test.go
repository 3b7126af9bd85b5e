package fs_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/apkforge/internal/adapters/fs"
	"go.trai.ch/apkforge/internal/core/domain"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestWalker_WalkFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".git/config", "git")
	writeFile(t, root, ".apkforge/store/abc.json", "{}")
	writeFile(t, root, "build/tmp/x", "ignored")
	writeFile(t, root, "src/main/AndroidManifest.xml", "<manifest/>")
	writeFile(t, root, "src/main/res/values/strings.xml", "<resources/>")
	writeFile(t, root, "notes.swp", "ignored")

	got := slices.Collect(fs.NewWalker().WalkFiles(root, []string{"build", "*.swp"}))

	assert.Equal(t, []string{
		filepath.Join(root, "src/main/AndroidManifest.xml"),
		filepath.Join(root, "src/main/res/values/strings.xml"),
	}, got)
}

func TestWalker_StopsEarly(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a", "1")
	writeFile(t, root, "b", "2")

	var seen []string
	for path := range fs.NewWalker().WalkFiles(root, nil) {
		seen = append(seen, path)
		break
	}
	assert.Len(t, seen, 1)
}

func TestResolver_ResolveInputs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "libs/gobackend.aar", "aar")
	writeFile(t, root, "libs/other.jar", "jar")
	writeFile(t, root, "apkforge.yaml", "name: app")

	resolved, err := fs.NewResolver().ResolveInputs([]string{"libs/*", "apkforge.yaml", "libs/gobackend.aar"}, root)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(root, "apkforge.yaml"),
		filepath.Join(root, "libs/gobackend.aar"),
		filepath.Join(root, "libs/other.jar"),
	}, resolved)
}

func TestResolver_ResolveInputs_Missing(t *testing.T) {
	_, err := fs.NewResolver().ResolveInputs([]string{"src/main/AndroidManifest.xml"}, t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInputNotFound))
}

func TestResolver_ResolveInputs_BadPattern(t *testing.T) {
	_, err := fs.NewResolver().ResolveInputs([]string{"[a-"}, t.TempDir())
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to glob path")
}

func newTask(params map[string]string) *domain.Task {
	return &domain.Task{
		Name:    domain.NewInternedString("package:x86_64"),
		Stage:   domain.StagePackage,
		Scope:   "x86_64",
		Inputs:  domain.NewInternedStrings("build/intermediates/release/shrunk"),
		Outputs: domain.NewInternedStrings("build/outputs/apk/release/app-x86_64-release-unsigned.apk"),
		Params:  params,
	}
}

func TestHasher_ComputeInputHash(t *testing.T) {
	root := t.TempDir()
	input := writeFile(t, root, "shrunk/classes/a.class", "v1")
	hasher := fs.NewHasher(fs.NewWalker())

	base, err := hasher.ComputeInputHash(newTask(map[string]string{"abi": "x86_64"}), []string{filepath.Dir(input)})
	require.NoError(t, err)
	assert.Len(t, base, 16)

	again, err := hasher.ComputeInputHash(newTask(map[string]string{"abi": "x86_64"}), []string{filepath.Dir(input)})
	require.NoError(t, err)
	assert.Equal(t, base, again)

	params, err := hasher.ComputeInputHash(newTask(map[string]string{"abi": "arm64-v8a"}), []string{filepath.Dir(input)})
	require.NoError(t, err)
	assert.NotEqual(t, base, params, "params are part of the fingerprint")

	writeFile(t, root, "shrunk/classes/a.class", "v2")
	content, err := hasher.ComputeInputHash(newTask(map[string]string{"abi": "x86_64"}), []string{filepath.Dir(input)})
	require.NoError(t, err)
	assert.NotEqual(t, base, content, "file content is part of the fingerprint")
}

func TestHasher_ComputeInputHash_MissingInput(t *testing.T) {
	_, err := fs.NewHasher(fs.NewWalker()).ComputeInputHash(newTask(nil), []string{filepath.Join(t.TempDir(), "gone")})
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to stat path")
}

func TestHasher_ComputeOutputHash_IndependentOfRoot(t *testing.T) {
	hasher := fs.NewHasher(fs.NewWalker())
	outputs := []string{"build/outputs/apk/release"}

	hashIn := func(root string) string {
		writeFile(t, root, "build/outputs/apk/release/app-release.apk", "apk")
		writeFile(t, root, "build/outputs/apk/release/output-metadata.json", "{}")
		h, err := hasher.ComputeOutputHash(outputs, root)
		require.NoError(t, err)
		return h
	}

	assert.Equal(t, hashIn(t.TempDir()), hashIn(t.TempDir()))
}

func TestHasher_ComputeOutputHash_Missing(t *testing.T) {
	_, err := fs.NewHasher(fs.NewWalker()).ComputeOutputHash([]string{"build/app.apk"}, t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
