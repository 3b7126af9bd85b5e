package repository

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/zerr"
)

// source is one place modules are looked up in.
type source interface {
	// versions lists the versions of the module the source knows about.
	versions(ctx context.Context, coord domain.Coordinate) ([]string, error)
	// fetch returns the local path of the module archive, or "" when the
	// source does not have it.
	fetch(ctx context.Context, coord domain.Coordinate, version string) (string, error)
}

// archiveTypes returns the archive extensions to try for a coordinate.
func archiveTypes(coord domain.Coordinate) []string {
	if coord.Type != "" {
		return []string{coord.Type}
	}
	return []string{domain.ArchiveAAR, domain.ArchiveJAR}
}

// mavenPath returns the slash separated layout path of a module file
// relative to the repository root.
func mavenPath(coord domain.Coordinate, version, ext string) string {
	return strings.Join([]string{
		strings.ReplaceAll(coord.Group, ".", "/"),
		coord.Artifact,
		version,
		coord.Artifact + "-" + version + "." + ext,
	}, "/")
}

func modulePath(coord domain.Coordinate) string {
	return strings.ReplaceAll(coord.Group, ".", "/") + "/" + coord.Artifact
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// flatDir is a directory holding "<artifact>-<version>.<ext>" or
// unversioned "<artifact>.<ext>" files. The group is ignored.
type flatDir struct {
	dir string
}

func (f *flatDir) versions(_ context.Context, coord domain.Coordinate) ([]string, error) {
	var versions []string
	for _, ext := range archiveTypes(coord) {
		matches, err := filepath.Glob(filepath.Join(f.dir, coord.Artifact+"-*."+ext))
		if err != nil {
			return nil, zerr.With(zerr.Wrap(err, "failed to list flatDir"), "dir", f.dir)
		}
		for _, m := range matches {
			name := strings.TrimSuffix(filepath.Base(m), "."+ext)
			versions = append(versions, strings.TrimPrefix(name, coord.Artifact+"-"))
		}
	}
	return versions, nil
}

func (f *flatDir) fetch(_ context.Context, coord domain.Coordinate, version string) (string, error) {
	for _, ext := range archiveTypes(coord) {
		if path := filepath.Join(f.dir, coord.Artifact+"-"+version+"."+ext); fileExists(path) {
			return path, nil
		}
	}
	for _, ext := range archiveTypes(coord) {
		if path := filepath.Join(f.dir, coord.Artifact+"."+ext); fileExists(path) {
			return path, nil
		}
	}
	return "", nil
}

// localMaven is a maven layout on the local file system.
type localMaven struct {
	dir string
}

func (m *localMaven) versions(_ context.Context, coord domain.Coordinate) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(m.dir, filepath.FromSlash(modulePath(coord))))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, zerr.With(zerr.Wrap(err, "failed to list maven repository"), "dir", m.dir)
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() {
			versions = append(versions, e.Name())
		}
	}
	return versions, nil
}

func (m *localMaven) fetch(_ context.Context, coord domain.Coordinate, version string) (string, error) {
	for _, ext := range archiveTypes(coord) {
		if path := filepath.Join(m.dir, filepath.FromSlash(mavenPath(coord, version, ext))); fileExists(path) {
			return path, nil
		}
	}
	return "", nil
}

// remoteMaven is an HTTP maven repository mirrored into the artifact cache.
type remoteMaven struct {
	url      string
	cacheDir string
	offline  bool
	client   *http.Client
	logger   ports.Logger
}

type mavenMetadata struct {
	Versions []string `xml:"versioning>versions>version"`
}

// hostDir keeps caches of different repositories apart.
func (m *remoteMaven) hostDir() string {
	host := strings.TrimPrefix(strings.TrimPrefix(m.url, "https://"), "http://")
	return filepath.Join(m.cacheDir, filepath.FromSlash(strings.ReplaceAll(host, ":", "_")))
}

func (m *remoteMaven) versions(ctx context.Context, coord domain.Coordinate) ([]string, error) {
	if m.offline {
		return (&localMaven{dir: m.hostDir()}).versions(ctx, coord)
	}

	body, found, err := m.get(ctx, modulePath(coord)+"/maven-metadata.xml")
	if err != nil || !found {
		return nil, err
	}
	defer body.Close() //nolint:errcheck // Best effort close in defer

	var meta mavenMetadata
	if err := xml.NewDecoder(body).Decode(&meta); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to parse maven-metadata.xml"), "module", coord.Module())
	}
	return meta.Versions, nil
}

func (m *remoteMaven) fetch(ctx context.Context, coord domain.Coordinate, version string) (string, error) {
	cached := &localMaven{dir: m.hostDir()}
	if path, _ := cached.fetch(ctx, coord, version); path != "" {
		return path, nil
	}
	if m.offline {
		return "", nil
	}

	for _, ext := range archiveTypes(coord) {
		rel := mavenPath(coord, version, ext)
		body, found, err := m.get(ctx, rel)
		if err != nil {
			return "", err
		}
		if !found {
			continue
		}
		dest := filepath.Join(m.hostDir(), filepath.FromSlash(rel))
		err = writeAtomic(dest, body)
		_ = body.Close()
		if err != nil {
			return "", zerr.With(zerr.Wrap(err, "failed to store download"), "path", dest)
		}
		m.logger.Info(fmt.Sprintf("downloaded %s:%s from %s", coord.Module(), version, m.url))
		return dest, nil
	}
	return "", nil
}

// get fetches a repository path. A 404 is reported as not found.
func (m *remoteMaven) get(ctx context.Context, rel string) (io.ReadCloser, bool, error) {
	url := m.url + "/" + rel
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, false, zerr.With(zerr.Wrap(err, "failed to build request"), "url", url)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, false, zerr.With(zerr.Wrap(domain.ErrUnresolvedDependency, "repository request failed: "+err.Error()), "url", url)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, true, nil
	case http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, false, nil
	default:
		_ = resp.Body.Close()
		return nil, false, zerr.With(zerr.With(
			zerr.Wrap(domain.ErrUnresolvedDependency, "repository returned "+resp.Status),
			"url", url),
			"status_code", resp.StatusCode,
		)
	}
}

// writeAtomic copies r to a temp file next to path and renames it into place.
func writeAtomic(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, domain.DirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if _, statErr := os.Stat(tmpName); statErr == nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, domain.FilePerm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
