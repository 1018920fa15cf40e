// Package archive packs directory trees into tar streams and unpacks them.
// Compression is layered on by the caller through a compression.Codec.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"mysql-backup-coordinator/internal/errors"
)

// WriteDir writes every regular file, directory and symlink under root to w
// as a tar stream with paths relative to root. It returns the number of
// content bytes written.
func WriteDir(w io.Writer, root string) (int64, error) {
	tw := tar.NewWriter(w)
	var total int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		link := ""
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		} else if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		n, err := io.Copy(tw, f)
		f.Close()
		total += n
		return err
	})
	if err != nil {
		return total, errors.NewStorageError(fmt.Sprintf("failed to archive %s", root), err)
	}

	if err := tw.Close(); err != nil {
		return total, errors.NewStorageError("failed to finish tar stream", err)
	}
	return total, nil
}

// Extract unpacks the tar stream r into dest, creating it if needed. Entries
// that would escape dest, directly or through a symlink, are rejected.
// Symlinks must be relative and may not climb with "..".
func Extract(r io.Reader, dest string) error {
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to create %s", dest), err)
	}
	cleanDest := filepath.Clean(dest) + string(os.PathSeparator)
	realDest, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to resolve %s", dest), err)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.NewStorageError("failed to read tar stream", err)
		}

		target := filepath.Join(dest, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target+string(os.PathSeparator), cleanDest) {
			return errors.NewValidationError(fmt.Sprintf("archive entry %q escapes destination", hdr.Name), nil)
		}
		parent, err := resolveParent(target)
		if err != nil {
			return errors.NewStorageError(fmt.Sprintf("failed to resolve %s", target), err)
		}
		if !within(realDest, parent) {
			return errors.NewValidationError(fmt.Sprintf("archive entry %q escapes destination through a symlink", hdr.Name), nil)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(hdr.Mode)&fs.ModePerm|0o700); err != nil {
				return errors.NewStorageError("failed to create directory", err)
			}
		case tar.TypeReg:
			if err := extractFile(tr, target, fs.FileMode(hdr.Mode)&fs.ModePerm); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if !safeLinkname(hdr.Linkname) {
				return errors.NewValidationError(fmt.Sprintf("archive symlink %q -> %q escapes destination", hdr.Name, hdr.Linkname), nil)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return errors.NewStorageError("failed to create directory", err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return errors.NewStorageError("failed to create symlink", err)
			}
		}
	}
}

// resolveParent returns the real path of target's directory. Directories
// that do not exist yet are appended unresolved to their deepest existing
// ancestor.
func resolveParent(target string) (string, error) {
	dir := filepath.Dir(target)
	var missing []string
	for {
		real, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(append([]string{real}, missing...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		next := filepath.Dir(dir)
		if next == dir {
			return "", err
		}
		missing = append([]string{filepath.Base(dir)}, missing...)
		dir = next
	}
}

func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}

func safeLinkname(name string) bool {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

func extractFile(r io.Reader, target string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return errors.NewStorageError("failed to create directory", err)
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0o600)
	if err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to create %s", target), err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return errors.NewStorageError(fmt.Sprintf("failed to write %s", target), err)
	}
	return f.Close()
}

// List returns the entry names in the tar stream r
func List(r io.Reader) ([]string, error) {
	var names []string
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return names, errors.NewStorageError("failed to read tar stream", err)
		}
		names = append(names, hdr.Name)
	}
}
