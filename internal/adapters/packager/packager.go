// Package packager writes deterministic application packages and the
// output listing of a variant.
package packager

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/zerr"
)

const (
	manifestEntry = "AndroidManifest.xml"
	jarManifest   = "META-INF/MANIFEST.MF"
	entryMode     = 0o644
)

// entryTime is the modification time of every entry.
var entryTime = time.Date(1981, time.January, 1, 0, 0, 0, 0, time.UTC)

var _ ports.Packager = (*Packager)(nil)

// Packager implements ports.Packager.
type Packager struct{}

// New creates a new Packager.
func New() *Packager {
	return &Packager{}
}

// entry is a file to store in the package.
type entry struct {
	name string
	src  string
	data []byte
}

// Package implements ports.Packager.
func (p *Packager) Package(ctx context.Context, req domain.PackageRequest) (*domain.PackageResult, error) {
	entries, err := collectEntries(req)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(domain.Classify(domain.ErrPackaging, err), "failed to collect package entries"),
			"scope", req.Scope.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i := range entries {
		if entries[i].data == nil {
			data, err := os.ReadFile(entries[i].src)
			if err != nil {
				return nil, zerr.With(zerr.Wrap(domain.ErrPackaging, "failed to read package entry"), "path", entries[i].src)
			}
			entries[i].data = data
		}
	}
	entries = append(entries, entry{name: jarManifest, data: jarManifestFor(entries)})
	slices.SortFunc(entries, func(a, b entry) int { return strings.Compare(a.name, b.name) })

	sum, err := writeAtomic(req.Output, func(w io.Writer) error { return writeZip(w, entries) })
	if err != nil {
		return nil, zerr.With(zerr.With(
			zerr.Wrap(domain.Classify(domain.ErrPackaging, err), "failed to write package"),
			"path", req.Output),
			"scope", req.Scope.Name,
		)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.name)
	}
	return &domain.PackageResult{Path: req.Output, SHA256: sum, Entries: names}, nil
}

// collectEntries lists the manifest, classes, resources and the native
// libraries admitted by the scope.
func collectEntries(req domain.PackageRequest) ([]entry, error) {
	entries := []entry{{name: manifestEntry, src: req.ManifestFile}}

	for _, dir := range []string{domain.StagedClassesDir, domain.StagedResourcesDir} {
		files, err := listFiles(filepath.Join(req.ContentDir, dir))
		if err != nil {
			return nil, err
		}
		for _, rel := range files {
			entries = append(entries, entry{
				name: dir + "/" + rel,
				src:  filepath.Join(req.ContentDir, dir, filepath.FromSlash(rel)),
			})
		}
	}

	native, err := listFiles(filepath.Join(req.ContentDir, domain.StagedNativeDir))
	if err != nil {
		return nil, err
	}
	for _, rel := range native {
		abi, _, _ := strings.Cut(rel, "/")
		if !req.Scope.ABIs.Admits(domain.ABI(abi)) {
			continue
		}
		entries = append(entries, entry{
			name: domain.StagedNativeDir + "/" + rel,
			src:  filepath.Join(req.ContentDir, domain.StagedNativeDir, filepath.FromSlash(rel)),
		})
	}
	return entries, nil
}

// jarManifestFor lists the SHA-256 digest of every entry.
func jarManifestFor(entries []entry) []byte {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b entry) int { return strings.Compare(a.name, b.name) })

	var b bytes.Buffer
	b.WriteString("Manifest-Version: 1.0\r\nCreated-By: apkforge\r\n\r\n")
	for _, e := range sorted {
		sum := sha256.Sum256(e.data)
		b.WriteString("Name: " + e.name + "\r\n")
		b.WriteString("SHA-256-Digest: " + base64.StdEncoding.EncodeToString(sum[:]) + "\r\n\r\n")
	}
	return b.Bytes()
}

func writeZip(w io.Writer, entries []entry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		hdr := &zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: entryTime,
		}
		// Native libraries are mapped directly from the package.
		if strings.HasSuffix(e.name, ".so") {
			hdr.Method = zip.Store
		}
		hdr.SetMode(entryMode)
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		if _, err := fw.Write(e.data); err != nil {
			return err
		}
	}
	return zw.Close()
}

// writeAtomic writes through a temp file in the destination directory and
// renames it into place. It returns the SHA-256 of the written bytes.
func writeAtomic(path string, write func(io.Writer) error) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, domain.DirPerm); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	h := sha256.New()
	if err := write(io.MultiWriter(tmp, h)); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmpPath, domain.FilePerm); err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteMetadata implements ports.Packager.
func (p *Packager) WriteMetadata(path string, meta domain.OutputMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return zerr.Wrap(domain.Classify(domain.ErrPackaging, err), "failed to marshal output metadata")
	}
	data = append(data, '\n')
	_, err = writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return zerr.With(zerr.Wrap(domain.Classify(domain.ErrPackaging, err), "failed to write output metadata"), "path", path)
	}
	return nil
}

// listFiles returns the slash separated files below dir in order; a missing
// dir has none.
func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	slices.Sort(files)
	return files, err
}
