package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/stacksnap/snapferry/internal/domain"
)

type Options struct {
	// Pigz compresses through an external pigz process when one is on PATH.
	Pigz  bool
	Level int
}

// Create writes src (a file or a directory tree) to archivePath as a gzip
// tar whose single top-level entry is the base name of src.
func Create(src, archivePath string, opts Options) (err error) {
	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("failed to stat archive source: %w", err)
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close archive: %w", cerr)
		}
		if err != nil {
			os.Remove(archivePath)
		}
	}()

	zw, err := newCompressor(out, opts)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	base := filepath.Base(src)
	if info.IsDir() {
		err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			rel, err := filepath.Rel(src, path)
			if err != nil {
				return err
			}
			return addEntry(tw, path, filepath.ToSlash(filepath.Join(base, rel)))
		})
	} else {
		err = addEntry(tw, src, base)
	}
	if err != nil {
		zw.Close()
		return fmt.Errorf("failed to write archive: %w", err)
	}

	if err := tw.Close(); err != nil {
		zw.Close()
		return fmt.Errorf("failed to finalize tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize gzip: %w", err)
	}
	return out.Sync()
}

func addEntry(tw *tar.Writer, path, name string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}

	if info.Mode()&(fs.ModeSocket|fs.ModeNamedPipe|fs.ModeDevice) != 0 {
		return nil
	}

	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = name
	if info.IsDir() {
		header.Name += "/"
	}

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

// Extract unpacks archivePath into dest, preserving the directory layout.
// Entries that would land outside dest, directly or through a symlink the
// archive created earlier, make the archive malformed.
func Extract(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return domain.Malformed("extract", fmt.Errorf("invalid gzip stream: %w", err))
	}
	defer gz.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}
	root, err := os.OpenRoot(dest)
	if err != nil {
		return fmt.Errorf("failed to open extraction directory: %w", err)
	}
	defer root.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return domain.Malformed("extract", fmt.Errorf("corrupted tar: %w", err))
		}

		name, err := cleanName(header.Name)
		if err != nil {
			return domain.Malformed("extract", err)
		}
		if name == "." {
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			err = mkdirAll(root, name, dirMode(header))
		case tar.TypeReg:
			err = writeFile(root, dest, name, tr, header)
		case tar.TypeSymlink:
			if err = prepareEntry(root, name); err == nil {
				err = os.Symlink(header.Linkname, filepath.Join(dest, name))
			}
		default:
			// devices, fifos and hard links have no place in a backup
		}
		if err != nil {
			return err
		}
	}
}

func writeFile(root *os.Root, dest, name string, r io.Reader, header *tar.Header) error {
	if err := prepareEntry(root, name); err != nil {
		return err
	}
	out, err := root.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_EXCL, fs.FileMode(header.Mode).Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(filepath.Join(dest, name), header.ModTime, header.ModTime)
}

// prepareEntry creates the parents of name as real directories and clears
// the way for a new leaf. A symlink anywhere on the way is refused.
func prepareEntry(root *os.Root, name string) error {
	if dir := filepath.Dir(name); dir != "." {
		if err := mkdirAll(root, dir, 0o755); err != nil {
			return err
		}
	}
	info, err := root.Lstat(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	case info.Mode()&fs.ModeSymlink != 0 || info.IsDir():
		return domain.Malformed("extract", fmt.Errorf("entry %q would replace an existing directory or symlink", name))
	default:
		return root.Remove(name)
	}
}

// mkdirAll creates every component of name under root, refusing to descend
// through anything that is not a plain directory.
func mkdirAll(root *os.Root, name string, perm fs.FileMode) error {
	parts := strings.Split(name, string(filepath.Separator))
	for i := range parts {
		p := filepath.Join(parts[:i+1]...)
		info, err := root.Lstat(p)
		if errors.Is(err, fs.ErrNotExist) {
			if err := root.Mkdir(p, perm); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return domain.Malformed("extract", fmt.Errorf("entry %q passes through non-directory %q", name, p))
		}
	}
	return nil
}

func dirMode(h *tar.Header) fs.FileMode {
	m := fs.FileMode(h.Mode).Perm()
	if m == 0 {
		return 0o755
	}
	return m | 0o700
}

func cleanName(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes the extraction directory", name)
	}
	return clean, nil
}

// LocateDir returns root/name, which must be a directory.
func LocateDir(root, name string) (string, error) {
	p := filepath.Join(root, name)
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return "", domain.Malformed("locate", fmt.Errorf("archive has no %q directory at its top level", name))
	}
	return p, nil
}

// LocateFile returns the single regular file in root matching pattern.
func LocateFile(root, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(root, pattern))
	if err != nil {
		return "", err
	}
	var files []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	switch len(files) {
	case 1:
		return files[0], nil
	case 0:
		return "", domain.Malformed("locate", fmt.Errorf("archive contains no %s file", pattern))
	default:
		return "", domain.Malformed("locate", fmt.Errorf("archive contains %d %s files, expected one", len(files), pattern))
	}
}

// LocateSingleDir returns the only entry in root, which must be a directory.
func LocateSingleDir(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return "", domain.Malformed("locate", errors.New("archive is empty"))
	}
	if err != nil {
		return "", err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return "", domain.Malformed("locate", fmt.Errorf("archive must hold exactly one top-level directory, found %d entries", len(entries)))
	}
	return filepath.Join(root, entries[0].Name()), nil
}
