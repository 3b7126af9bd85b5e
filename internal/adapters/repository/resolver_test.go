package repository_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/apkforge/internal/adapters/repository"
	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/apkforge/internal/core/ports/mocks"
	"go.trai.ch/zerr"
	"go.uber.org/mock/gomock"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func module(t *testing.T, conf, notation string) domain.Dependency {
	t.Helper()
	coord, err := domain.ParseCoordinate(notation)
	require.NoError(t, err)
	return domain.Dependency{Configuration: conf, Module: &coord}
}

func newResolver(t *testing.T) *repository.Resolver {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Info(gomock.Any()).AnyTimes()
	return repository.NewResolver(log)
}

func sha(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestResolve_LocalFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "libs/gobackend.aar", "aar-bytes")

	desc := &domain.Descriptor{
		Root: root,
		Dependencies: []domain.Dependency{
			{Configuration: domain.ConfigImplementation, Files: []string{"libs/gobackend.aar"}},
		},
	}

	artifacts, err := newResolver(t).Resolve(context.Background(), desc, ports.ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, []domain.ResolvedArtifact{{
		Configuration: domain.ConfigImplementation,
		Path:          "libs/gobackend.aar",
		Kind:          domain.ArchiveAAR,
		SHA256:        sha("aar-bytes"),
	}}, artifacts)
}

func TestResolve_MissingLocalFile(t *testing.T) {
	desc := &domain.Descriptor{
		Root: t.TempDir(),
		Dependencies: []domain.Dependency{
			{Configuration: domain.ConfigImplementation, Files: []string{"libs/gobackend.aar"}},
		},
	}

	_, err := newResolver(t).Resolve(context.Background(), desc, ports.ResolveOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnresolvedDependency))
	assert.ErrorContains(t, err, "libs/gobackend.aar")
}

func TestResolve_FlatDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "libs/window-1.2.0.aar", "window")
	writeFile(t, root, "libs/annotation.jar", "annotation")

	desc := &domain.Descriptor{
		Root:         root,
		Repositories: []domain.Repository{{Kind: domain.RepositoryFlatDir, Dirs: []string{"libs"}}},
		Dependencies: []domain.Dependency{
			module(t, domain.ConfigImplementation, "androidx.window:window:1.2.0"),
			module(t, domain.ConfigImplementation, "androidx.annotation:annotation:1.7.1"),
		},
	}

	artifacts, err := newResolver(t).Resolve(context.Background(), desc, ports.ResolveOptions{})
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "androidx.window:window:1.2.0", artifacts[0].Name())
	assert.Equal(t, "libs/window-1.2.0.aar", artifacts[0].Path)
	assert.Equal(t, "libs/annotation.jar", artifacts[1].Path)
	assert.Equal(t, domain.ArchiveJAR, artifacts[1].Kind)
}

func TestResolve_MavenConstraintPicksHighest(t *testing.T) {
	root := t.TempDir()
	for _, v := range []string{"2.9", "2.10.1", "3.0.0"} {
		writeFile(t, root, "m2/com/google/code/gson/gson/"+v+"/gson-"+v+".jar", "gson "+v)
	}

	desc := &domain.Descriptor{
		Root:         root,
		Repositories: []domain.Repository{{Kind: domain.RepositoryMaven, URL: "file://" + filepath.Join(root, "m2")}},
		Dependencies: []domain.Dependency{module(t, domain.ConfigImplementation, "com.google.code.gson:gson:^2.7")},
	}

	artifacts, err := newResolver(t).Resolve(context.Background(), desc, ports.ResolveOptions{})
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "2.10.1", artifacts[0].Version)
	assert.Equal(t, "m2/com/google/code/gson/gson/2.10.1/gson-2.10.1.jar", artifacts[0].Path)
}

func TestResolve_UnavailableVersionNamesDependency(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "m2/org/jetbrains/kotlinx/kotlinx-coroutines-android/1.7.3/kotlinx-coroutines-android-1.7.3.jar", "x")

	desc := &domain.Descriptor{
		Root:         root,
		Repositories: []domain.Repository{{Kind: domain.RepositoryMaven, URL: "m2"}},
		Dependencies: []domain.Dependency{
			module(t, domain.ConfigImplementation, "org.jetbrains.kotlinx:kotlinx-coroutines-android:1.7.3"),
			module(t, domain.ConfigImplementation, "androidx.lifecycle:lifecycle-runtime-ktx:2.7.0"),
		},
	}

	_, err := newResolver(t).Resolve(context.Background(), desc, ports.ResolveOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnresolvedDependency))
	assert.ErrorContains(t, err, "androidx.lifecycle:lifecycle-runtime-ktx:2.7.0")

	var zErr *zerr.Error
	require.True(t, errors.As(err, &zErr))
	assert.Equal(t, "androidx.lifecycle:lifecycle-runtime-ktx:2.7.0", zErr.Metadata()["dependency"])
}

func TestResolve_ReportsFirstFailureInDeclarationOrder(t *testing.T) {
	desc := &domain.Descriptor{
		Root: t.TempDir(),
		Dependencies: []domain.Dependency{
			module(t, domain.ConfigImplementation, "a.b:first:1.0.0"),
			module(t, domain.ConfigImplementation, "a.b:second:1.0.0"),
		},
	}

	_, err := newResolver(t).Resolve(context.Background(), desc, ports.ResolveOptions{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "a.b:first:1.0.0")
}

func newMavenServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/maven2/androidx/window/window/maven-metadata.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<metadata><versioning><versions>
			<version>1.1.0</version><version>1.2.0</version><version>1.3.0-alpha01</version>
		</versions></versioning></metadata>`))
	})
	mux.HandleFunc("/maven2/androidx/window/window/1.2.0/window-1.2.0.aar", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("window 1.2.0"))
	})
	mux.HandleFunc("/maven2/broken/lib/lib/1.0.0/lib-1.0.0.aar", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolve_RemoteMaven(t *testing.T) {
	var hits atomic.Int32
	srv := newMavenServer(t, &hits)
	root := t.TempDir()

	desc := &domain.Descriptor{
		Root:         root,
		Repositories: []domain.Repository{{Kind: domain.RepositoryMaven, URL: srv.URL + "/maven2/"}},
		Dependencies: []domain.Dependency{module(t, domain.ConfigImplementation, "androidx.window:window:>=1.1, <1.3")},
	}

	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Info(gomock.Any()).Times(1)
	resolver := repository.NewResolverWithClient(log, srv.Client())

	artifacts, err := resolver.Resolve(context.Background(), desc, ports.ResolveOptions{})
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "1.2.0", artifacts[0].Version)
	assert.Equal(t, sha("window 1.2.0"), artifacts[0].SHA256)
	assert.FileExists(t, filepath.Join(root, filepath.FromSlash(artifacts[0].Path)))

	// Offline runs are served from the cache.
	offline, err := resolver.Resolve(context.Background(), desc, ports.ResolveOptions{Offline: true})
	require.NoError(t, err)
	assert.Equal(t, artifacts, offline)
	assert.Equal(t, int32(1), hits.Load())
}

func TestResolve_RemoteMavenOfflineWithoutCache(t *testing.T) {
	var hits atomic.Int32
	srv := newMavenServer(t, &hits)

	desc := &domain.Descriptor{
		Root:         t.TempDir(),
		Repositories: []domain.Repository{{Kind: domain.RepositoryMaven, URL: srv.URL + "/maven2"}},
		Dependencies: []domain.Dependency{module(t, domain.ConfigImplementation, "androidx.window:window:1.2.0")},
	}

	_, err := newResolver(t).Resolve(context.Background(), desc, ports.ResolveOptions{Offline: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnresolvedDependency))
	assert.Equal(t, int32(0), hits.Load())
}

func TestResolve_RemoteMavenServerError(t *testing.T) {
	var hits atomic.Int32
	srv := newMavenServer(t, &hits)

	desc := &domain.Descriptor{
		Root:         t.TempDir(),
		Repositories: []domain.Repository{{Kind: domain.RepositoryMaven, URL: srv.URL + "/maven2"}},
		Dependencies: []domain.Dependency{module(t, domain.ConfigImplementation, "broken.lib:lib:1.0.0")},
	}

	_, err := newResolver(t).Resolve(context.Background(), desc, ports.ResolveOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnresolvedDependency))

	var zErr *zerr.Error
	require.True(t, errors.As(err, &zErr))
	assert.Equal(t, http.StatusInternalServerError, zErr.Metadata()["status_code"])
	assert.Equal(t, "broken.lib:lib:1.0.0", zErr.Metadata()["dependency"])
}

func TestResolve_InvalidConstraint(t *testing.T) {
	desc := &domain.Descriptor{
		Root:         t.TempDir(),
		Dependencies: []domain.Dependency{module(t, domain.ConfigImplementation, "a.b:c:>=banana")},
	}

	_, err := newResolver(t).Resolve(context.Background(), desc, ports.ResolveOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestIsExactVersion(t *testing.T) {
	tests := map[string]bool{
		"1.7.3":         true,
		"2.0.4":         true,
		"1.3.0-alpha01": true,
		"^2.7":          false,
		">=1.7, <2":     false,
		"2.x":           false,
		"~1.2":          false,
		"*":             false,
	}
	for version, want := range tests {
		assert.Equal(t, want, repository.IsExactVersion(version), version)
	}
}
