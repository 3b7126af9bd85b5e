package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/zerr"
)

// copyTree copies the files below src accepted by keep (nil keeps all) to
// dst, overwriting existing files when overwrite is set. A missing src
// copies nothing.
func copyTree(src, dst string, keep func(rel string) bool, overwrite bool) error {
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == src {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if keep != nil && !keep(filepath.ToSlash(rel)) {
			return nil
		}

		in, err := os.Open(path) //nolint:gosec // path comes from walking src
		if err != nil {
			return err
		}
		defer in.Close() //nolint:errcheck // read only
		_, err = writeStream(filepath.Join(dst, rel), in, overwrite)
		return err
	})
	if err != nil {
		return zerr.With(zerr.With(zerr.Wrap(err, "failed to copy files"), "from", src), "to", dst)
	}
	return nil
}

// writeStream writes r to path, creating parent directories. Without
// overwrite an existing file is kept and false is returned.
func writeStream(path string, r io.Reader, overwrite bool) (bool, error) {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), domain.DirPerm); err != nil {
		return false, err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, domain.FilePerm) //nolint:gosec // stage output
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return false, err
	}
	return true, out.Close()
}

// writeFile writes data to path, creating parent directories.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), domain.DirPerm); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create directory"), "dir", filepath.Dir(path))
	}
	if err := os.WriteFile(path, data, domain.FilePerm); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to write file"), "file", path)
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // package path below the output directory
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to open package"), "file", path)
	}
	defer f.Close() //nolint:errcheck // read only

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", zerr.With(zerr.Wrap(err, "failed to hash package"), "file", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
