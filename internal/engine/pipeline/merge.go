package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/zerr"
)

// Entries of an Android library archive.
const (
	aarClasses  = "classes.jar"
	aarLibsDir  = "libs/"
	aarNative   = "jni/"
	aarRes      = "res/"
	aarRules    = "proguard.txt"
	appOrigin   = "application classes"
	classSuffix = ".class"
)

var archiveNameReplacer = strings.NewReplacer(":", "_", "/", "_", "\\", "_")

// merger stages package content from the application and its libraries.
type merger struct {
	out     string
	abis    domain.ABISet
	origins map[string]string
	vertex  ports.Vertex
}

func (r *Runner) merge(vertex ports.Vertex) error {
	artifacts, err := r.resolved()
	if err != nil {
		return err
	}

	m := &merger{
		out:     r.path(r.layout.MergedDir()),
		abis:    domain.ABISet(r.desc.ABIFilters),
		origins: make(map[string]string),
		vertex:  vertex,
	}
	if err := os.MkdirAll(m.out, domain.DirPerm); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create merge directory"), "dir", m.out)
	}

	if err := m.addClassDir(r.path(r.layout.ClassesDir())); err != nil {
		return err
	}
	for _, a := range artifacts {
		if a.Configuration != domain.ConfigImplementation {
			continue
		}
		if err := m.addArchive(a, r.path(a.Path)); err != nil {
			return err
		}
	}
	if err := m.addNativeDir(r.path(r.desc.Sources.JNILibs)); err != nil {
		return err
	}
	if err := copyTree(r.path(r.desc.Sources.Resources), filepath.Join(m.out, domain.StagedResourcesDir), nil, true); err != nil {
		return err
	}

	vertex.Log(domain.LogLevelInfo, fmt.Sprintf("merged %d classes from %d libraries", len(m.origins), len(artifacts)))
	return nil
}

// addClass stages one class file. A class defined by two sources is an error.
func (m *merger) addClass(rel, origin string, r io.Reader) error {
	if prev, ok := m.origins[rel]; ok {
		name := domain.ClassNameFromPath(rel)
		return zerr.With(zerr.With(zerr.With(
			zerr.Wrap(domain.ErrPackaging, fmt.Sprintf("duplicate class %s found in %s and %s", name, prev, origin)),
			"class", name),
			"first", prev),
			"second", origin,
		)
	}
	m.origins[rel] = origin
	_, err := writeStream(filepath.Join(m.out, domain.StagedClassesDir, filepath.FromSlash(rel)), r, true)
	return err
}

func (m *merger) addClassDir(dir string) error {
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, classSuffix) {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		f, err := os.Open(p) //nolint:gosec // path comes from walking the classes directory
		if err != nil {
			return err
		}
		defer f.Close() //nolint:errcheck // read only
		return m.addClass(filepath.ToSlash(rel), appOrigin, f)
	})
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to stage application classes"), "dir", dir)
	}
	return nil
}

// addNativeDir stages <dir>/<abi>/*.so, replacing library copies.
func (m *merger) addNativeDir(dir string) error {
	keep := func(rel string) bool {
		abi, _, _ := strings.Cut(rel, "/")
		return m.admits(domain.ABI(abi), "application jniLibs")
	}
	return copyTree(dir, filepath.Join(m.out, domain.StagedNativeDir), keep, true)
}

// admits reports whether native code for abi is staged.
func (m *merger) admits(abi domain.ABI, origin string) bool {
	if !abi.Known() {
		m.vertex.Log(domain.LogLevelWarn, fmt.Sprintf("ignoring native code for unknown ABI %q in %s", abi, origin))
		return false
	}
	return m.abis.Admits(abi)
}

func (m *merger) addArchive(a domain.ResolvedArtifact, file string) error {
	zr, err := zip.OpenReader(file)
	if err != nil {
		return zerr.With(zerr.Wrap(domain.Classify(domain.ErrPackaging, err), "failed to open library archive"),
			"archive", a.Name())
	}
	defer zr.Close() //nolint:errcheck // read only

	if a.Kind == domain.ArchiveJAR {
		return m.addJar(&zr.Reader, a.Name())
	}

	for _, f := range zr.File {
		if err := m.addAAREntry(a, f); err != nil {
			return zerr.With(err, "archive", a.Name())
		}
	}
	return nil
}

func (m *merger) addAAREntry(a domain.ResolvedArtifact, f *zip.File) error {
	name, err := entryName(f)
	if err != nil || name == "" {
		return err
	}

	switch {
	case name == aarClasses || (strings.HasPrefix(name, aarLibsDir) && strings.HasSuffix(name, ".jar")):
		data, err := readEntry(f)
		if err != nil {
			return err
		}
		nested, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return zerr.With(zerr.Wrap(domain.Classify(domain.ErrPackaging, err), "failed to open nested archive"),
				"entry", name)
		}
		return m.addJar(nested, a.Name())

	case strings.HasPrefix(name, aarNative) && strings.HasSuffix(name, ".so"):
		rel := strings.TrimPrefix(name, aarNative)
		abi, _, _ := strings.Cut(rel, "/")
		if !m.admits(domain.ABI(abi), a.Name()) {
			return nil
		}
		return m.extract(f, filepath.Join(m.out, domain.StagedNativeDir, filepath.FromSlash(rel)), false)

	case strings.HasPrefix(name, aarRes):
		rel := strings.TrimPrefix(name, aarRes)
		return m.extract(f, filepath.Join(m.out, domain.StagedResourcesDir, filepath.FromSlash(rel)), false)

	case name == aarRules:
		dst := filepath.Join(m.out, domain.StagedRulesDir, archiveNameReplacer.Replace(a.Name())+".txt")
		return m.extract(f, dst, true)
	}
	return nil
}

func (m *merger) addJar(zr *zip.Reader, origin string) error {
	for _, f := range zr.File {
		name, err := entryName(f)
		if err != nil {
			return err
		}
		if !strings.HasSuffix(name, classSuffix) || strings.HasPrefix(name, "META-INF/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return zerr.With(zerr.Wrap(domain.Classify(domain.ErrPackaging, err), "failed to read archive entry"),
				"entry", name)
		}
		err = m.addClass(name, origin, rc)
		_ = rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *merger) extract(f *zip.File, dst string, overwrite bool) error {
	rc, err := f.Open()
	if err != nil {
		return zerr.With(zerr.Wrap(domain.Classify(domain.ErrPackaging, err), "failed to read archive entry"),
			"entry", f.Name)
	}
	defer rc.Close() //nolint:errcheck // read only
	if _, err := writeStream(dst, rc, overwrite); err != nil {
		return zerr.With(zerr.Wrap(domain.Classify(domain.ErrPackaging, err), "failed to stage archive entry"),
			"entry", f.Name)
	}
	return nil
}

// entryName returns the cleaned name of a file entry, or "" for directories.
// Names escaping the staging directory are rejected.
func entryName(f *zip.File) (string, error) {
	if strings.HasSuffix(f.Name, "/") {
		return "", nil
	}
	name := path.Clean(strings.ReplaceAll(f.Name, "\\", "/"))
	if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
		return "", zerr.With(zerr.Wrap(domain.ErrPackaging, "archive entry "+f.Name+" escapes the staging directory"),
			"entry", f.Name)
	}
	return name, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, zerr.With(zerr.Wrap(domain.Classify(domain.ErrPackaging, err), "failed to read archive entry"),
			"entry", f.Name)
	}
	defer rc.Close() //nolint:errcheck // read only
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(domain.Classify(domain.ErrPackaging, err), "failed to read archive entry"),
			"entry", f.Name)
	}
	return data, nil
}

// compileClasspath returns the archives the compiler resolves library
// classes from. Library archives contribute their classes.jar, extracted
// below the variant's classpath directory.
func (r *Runner) compileClasspath(artifacts []domain.ResolvedArtifact) ([]string, error) {
	dir := r.path(r.layout.ClasspathDir())
	if err := os.RemoveAll(dir); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to clean classpath directory"), "dir", dir)
	}

	classpath := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		file := r.path(a.Path)
		if a.Kind == domain.ArchiveJAR {
			classpath = append(classpath, file)
			continue
		}

		jar, err := extractClassesJar(file, filepath.Join(dir, archiveNameReplacer.Replace(a.Name())+".jar"))
		if err != nil {
			return nil, zerr.With(err, "archive", a.Name())
		}
		if jar != "" {
			classpath = append(classpath, jar)
		}
	}
	return classpath, nil
}

// extractClassesJar copies the classes.jar of the library archive at file
// to dst. It returns "" when the archive has no classes.
func extractClassesJar(file, dst string) (string, error) {
	zr, err := zip.OpenReader(file)
	if err != nil {
		return "", zerr.Wrap(err, "failed to open library archive")
	}
	defer zr.Close() //nolint:errcheck // read only

	for _, f := range zr.File {
		if f.Name != aarClasses {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", zerr.Wrap(err, "failed to read classes.jar")
		}
		defer rc.Close() //nolint:errcheck // read only
		if _, err := writeStream(dst, rc, true); err != nil {
			return "", zerr.Wrap(err, "failed to extract classes.jar")
		}
		return dst, nil
	}
	return "", nil
}
