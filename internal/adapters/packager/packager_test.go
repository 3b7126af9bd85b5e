package packager_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/apkforge/internal/adapters/packager"
	"go.trai.ch/apkforge/internal/core/domain"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func stage(t *testing.T) (content, manifest string) {
	t.Helper()
	dir := t.TempDir()
	content = filepath.Join(dir, "shrunk")
	manifest = filepath.Join(dir, "manifest", "AndroidManifest.xml")

	write(t, manifest, "<manifest/>")
	write(t, filepath.Join(content, "classes", "com", "example", "Main.class"), "class")
	write(t, filepath.Join(content, "res", "values", "strings.xml"), "<resources/>")
	for _, abi := range []string{"arm64-v8a", "armeabi-v7a", "x86_64"} {
		write(t, filepath.Join(content, "lib", abi, "libapp.so"), "elf "+abi)
	}
	return content, manifest
}

func entries(t *testing.T, path string) map[string]*zip.File {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	out := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		out[f.Name] = f
	}
	return out
}

func TestPackager_Package_ScopesNativeCode(t *testing.T) {
	content, manifest := stage(t)
	out := t.TempDir()

	tests := []struct {
		name  string
		scope domain.Scope
		libs  []string
	}{
		{
			name:  "split",
			scope: domain.Scope{Name: "arm64-v8a", Kind: domain.OutputOneOfMany, Filter: domain.ABIArm64V8a, ABIs: domain.ABISet{domain.ABIArm64V8a}},
			libs:  []string{"lib/arm64-v8a/libapp.so"},
		},
		{
			name: "universal",
			scope: domain.Scope{Name: "universal", Kind: domain.OutputUniversal,
				ABIs: domain.ABISet{domain.ABIArm64V8a, domain.ABIArmeabiV7a}},
			libs: []string{"lib/arm64-v8a/libapp.so", "lib/armeabi-v7a/libapp.so"},
		},
		{
			name:  "main",
			scope: domain.Scope{Name: "main", Kind: domain.OutputSingle},
			libs:  []string{"lib/arm64-v8a/libapp.so", "lib/armeabi-v7a/libapp.so", "lib/x86_64/libapp.so"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(out, tt.name+".apk")
			result, err := packager.New().Package(context.Background(), domain.PackageRequest{
				ContentDir:   content,
				ManifestFile: manifest,
				Scope:        tt.scope,
				Output:       path,
			})
			require.NoError(t, err)
			assert.Equal(t, path, result.Path)

			want := append([]string{
				"AndroidManifest.xml",
				"META-INF/MANIFEST.MF",
				"classes/com/example/Main.class",
			}, tt.libs...)
			want = append(want, "res/values/strings.xml")
			assert.Equal(t, want, result.Entries)

			files := entries(t, path)
			assert.Len(t, files, len(want))
			for _, lib := range tt.libs {
				assert.Equal(t, zip.Store, files[lib].Method, lib)
			}
			assert.Equal(t, zip.Deflate, files["classes/com/example/Main.class"].Method)
			assert.True(t, files["AndroidManifest.xml"].Modified.Equal(time.Date(1981, 1, 1, 0, 0, 0, 0, time.UTC)))
		})
	}
}

func TestPackager_Package_Deterministic(t *testing.T) {
	content, manifest := stage(t)
	out := t.TempDir()
	scope := domain.Scope{Name: "main", Kind: domain.OutputSingle}

	first, err := packager.New().Package(context.Background(), domain.PackageRequest{
		ContentDir: content, ManifestFile: manifest, Scope: scope, Output: filepath.Join(out, "a.apk"),
	})
	require.NoError(t, err)

	// Touch the inputs: only content matters.
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(manifest, later, later))

	second, err := packager.New().Package(context.Background(), domain.PackageRequest{
		ContentDir: content, ManifestFile: manifest, Scope: scope, Output: filepath.Join(out, "b.apk"),
	})
	require.NoError(t, err)

	a, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	b, err := os.ReadFile(second.Path)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, first.SHA256, second.SHA256)
}

func TestPackager_Package_JarManifestDigests(t *testing.T) {
	content, manifest := stage(t)
	path := filepath.Join(t.TempDir(), "app.apk")

	_, err := packager.New().Package(context.Background(), domain.PackageRequest{
		ContentDir: content, ManifestFile: manifest, Scope: domain.Scope{Name: "main"}, Output: path,
	})
	require.NoError(t, err)

	f, err := entries(t, path)["META-INF/MANIFEST.MF"].Open()
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	mf := string(data)

	assert.Contains(t, mf, "Manifest-Version: 1.0\r\n")
	assert.Contains(t, mf, "Name: AndroidManifest.xml\r\nSHA-256-Digest: ")
	assert.Contains(t, mf, "Name: lib/x86_64/libapp.so\r\n")
	assert.NotContains(t, mf, "Name: META-INF/MANIFEST.MF")
}

func TestPackager_Package_FailureLeavesNoFile(t *testing.T) {
	content, _ := stage(t)
	out := t.TempDir()
	path := filepath.Join(out, "app.apk")

	_, err := packager.New().Package(context.Background(), domain.PackageRequest{
		ContentDir:   content,
		ManifestFile: filepath.Join(out, "missing.xml"),
		Scope:        domain.Scope{Name: "main"},
		Output:       path,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPackaging))
	assert.NoFileExists(t, path)

	left, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestPackager_WriteMetadata(t *testing.T) {
	desc := &domain.Descriptor{ApplicationID: "com.example.flutter_app", VersionCode: 7, VersionName: "1.4.0"}
	meta := domain.NewOutputMetadata(desc, "release")
	meta.Elements = append(meta.Elements,
		domain.NewOutputElement(desc, domain.Scope{Name: "arm64-v8a", Kind: domain.OutputOneOfMany, Filter: domain.ABIArm64V8a},
			"app-arm64-v8a-release.apk", "1111"),
		domain.NewOutputElement(desc, domain.Scope{Name: "armeabi-v7a", Kind: domain.OutputOneOfMany, Filter: domain.ABIArmeabiV7a},
			"app-armeabi-v7a-release.apk", "2222"),
	)
	universal := domain.NewOutputElement(desc, domain.Scope{Name: "universal", Kind: domain.OutputUniversal},
		"app-universal-release.apk", "3333")
	universal.Signature = "app-universal-release.apk.asc"
	meta.Elements = append(meta.Elements, universal)

	path := filepath.Join(t.TempDir(), "release", domain.OutputMetadataFileName)
	require.NoError(t, packager.New().WriteMetadata(path, meta))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "output_metadata", data)
}
