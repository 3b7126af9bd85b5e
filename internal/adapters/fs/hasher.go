package fs

import (
	"encoding/binary"
	"fmt"
	"io"
	iofs "io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.Hasher = (*Hasher)(nil)

// Hasher fingerprints tasks and files with xxhash.
type Hasher struct {
	walker *Walker
}

// NewHasher creates a new Hasher.
func NewHasher(walker *Walker) *Hasher {
	return &Hasher{walker: walker}
}

// ComputeFileHash computes the xxhash of a file's content.
func (h *Hasher) ComputeFileHash(path string) (uint64, error) {
	f, err := os.Open(path) //nolint:gosec // Path is controlled by caller
	if err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to open file"), "path", path)
	}
	defer f.Close() //nolint:errcheck // Best effort close in defer

	hasher := xxhash.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to hash file content"), "path", path)
	}

	return hasher.Sum64(), nil
}

// ComputeInputHash hashes the task definition together with the content of
// the resolved inputs. Directories are hashed file by file.
func (h *Hasher) ComputeInputHash(task *domain.Task, inputs []string) (string, error) {
	hasher := xxhash.New()

	h.hashTaskDefinition(task, hasher)

	for _, input := range inputs {
		if err := h.hashPath(input, hasher); err != nil {
			return "", err
		}
	}

	return fmt.Sprintf("%016x", hasher.Sum64()), nil
}

func (h *Hasher) hashTaskDefinition(task *domain.Task, hasher *xxhash.Digest) {
	writeField := func(s string) {
		_, _ = hasher.WriteString(s)
		_, _ = hasher.Write([]byte{0})
	}
	endSection := func() { _, _ = hasher.Write([]byte{0}) }

	writeField(task.Name.String())
	writeField(string(task.Stage))
	writeField(task.Scope)

	for _, input := range task.Inputs {
		writeField(input.String())
	}
	endSection()

	for _, output := range task.Outputs {
		writeField(output.String())
	}
	endSection()

	for _, dep := range task.Dependencies {
		writeField(dep.String())
	}
	endSection()

	for _, key := range slices.Sorted(maps.Keys(task.Params)) {
		writeField(key + "=" + task.Params[key])
	}
	endSection()
}

func (h *Hasher) hashPath(path string, w io.Writer) error {
	info, err := os.Stat(path)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to stat path"), "path", path)
	}

	if !info.IsDir() {
		return h.hashFile(path, path, w)
	}
	for filePath := range h.walker.WalkFiles(path, nil) {
		if err := h.hashFile(filePath, filePath, w); err != nil {
			return err
		}
	}
	return nil
}

// hashFile writes label and the content hash of path into w.
func (h *Hasher) hashFile(path, label string, w io.Writer) error {
	_, _ = w.Write([]byte(filepath.ToSlash(label)))
	_, _ = w.Write([]byte{0})

	hash, err := h.ComputeFileHash(path)
	if err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, hash); err != nil {
		return zerr.Wrap(err, "failed to write hash to digest")
	}
	return nil
}

// ComputeOutputHash hashes root-relative output files and directories.
// Directory entries are labelled by their path relative to root so the hash
// does not depend on where the project is checked out.
func (h *Hasher) ComputeOutputHash(outputs []string, root string) (string, error) {
	sorted := slices.Clone(outputs)
	slices.Sort(sorted)

	hasher := xxhash.New()

	for _, output := range sorted {
		path := filepath.Join(root, output)

		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return "", zerr.With(zerr.Wrap(iofs.ErrNotExist, "output file missing"), "path", path)
			}
			return "", zerr.With(zerr.Wrap(err, "failed to stat output file"), "path", path)
		}

		if !info.IsDir() {
			if err := h.hashFile(path, output, hasher); err != nil {
				return "", err
			}
			continue
		}

		for filePath := range h.walker.WalkFiles(path, nil) {
			rel, err := filepath.Rel(root, filePath)
			if err != nil {
				return "", zerr.With(zerr.Wrap(err, "failed to relativize output"), "path", filePath)
			}
			if err := h.hashFile(filePath, rel, hasher); err != nil {
				return "", err
			}
		}
	}

	return fmt.Sprintf("%016x", hasher.Sum64()), nil
}
