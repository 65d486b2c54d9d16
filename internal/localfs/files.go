// Package localfs reads upload ranges from and writes download ranges to the
// local filesystem through go-billy.
//
// Downloads are written to a sibling "<path>.part" file which is renamed into
// place on Commit or removed on Discard, so a cancelled or failed download
// never leaves a truncated file at the destination.
package localfs

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// PartialSuffix is appended to download destinations until they complete.
const PartialSuffix = ".part"

// DefaultContentType is used when no content type can be detected.
const DefaultContentType = "application/octet-stream"

// Files gives concurrent, offset-addressed access to local files.
type Files struct {
	fs billy.Filesystem
	// abs resolves relative paths against the working directory.
	abs bool

	mu      sync.Mutex
	writers map[string]*writer
}

type writer struct {
	mu   sync.Mutex
	file billy.File
}

// New wraps a billy filesystem.
func New(fs billy.Filesystem) *Files {
	return &Files{
		fs:      fs,
		writers: make(map[string]*writer),
	}
}

// NewOS returns Files backed by the host filesystem. Relative paths are
// resolved against the working directory.
func NewOS() *Files {
	f := New(osfs.New("/"))
	f.abs = true
	return f
}

func (f *Files) resolve(path string) string {
	if !f.abs || filepath.IsAbs(path) {
		return path
	}
	if p, err := filepath.Abs(path); err == nil {
		return p
	}
	return path
}

// Size returns the size of a regular file.
func (f *Files) Size(path string) (int64, error) {
	info, err := f.fs.Stat(f.resolve(path))
	if err != nil {
		return 0, fmt.Errorf("localfs: stat %q: %w", path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("localfs: %q is a directory", path)
	}
	return info.Size(), nil
}

// Stat describes path.
func (f *Files) Stat(path string) (os.FileInfo, error) {
	return f.fs.Stat(f.resolve(path))
}

// Walk visits the tree under root in lexical order. Paths handed to fn are
// under root as given, even when it had to be resolved.
func (f *Files) Walk(root string, fn filepath.WalkFunc) error {
	resolved := f.resolve(root)
	if resolved == root {
		return util.Walk(f.fs, root, fn)
	}
	return util.Walk(f.fs, resolved, func(p string, info os.FileInfo, err error) error {
		if rel, relErr := filepath.Rel(resolved, p); relErr == nil {
			p = filepath.Join(root, rel)
		}
		return fn(p, info, err)
	})
}

// ReadAt fills buf from path starting at off. Each call opens its own handle
// so concurrent parts never share a file offset.
func (f *Files) ReadAt(path string, buf []byte, off int64) (int, error) {
	file, err := f.fs.Open(f.resolve(path))
	if err != nil {
		return 0, fmt.Errorf("localfs: open %q: %w", path, err)
	}
	defer file.Close()

	n, err := file.ReadAt(buf, off)
	if err == io.EOF && n == len(buf) {
		err = nil
	}
	if err != nil {
		return n, fmt.Errorf("localfs: readat %q off=%d: %w", path, off, err)
	}
	return n, nil
}

// DetectContentType sniffs the first 512 bytes of path, falling back to the
// file extension.
func (f *Files) DetectContentType(path string) string {
	file, err := f.fs.Open(f.resolve(path))
	if err == nil {
		defer file.Close()
		buf := make([]byte, 512)
		n, _ := io.ReadFull(file, buf)
		if n > 0 {
			if mt := mimetype.Detect(buf[:n]); mt != nil && mt.String() != DefaultContentType {
				return mt.String()
			}
		}
	}

	if ext := strings.ToLower(filepath.Ext(path)); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return byExt
		}
	}
	return DefaultContentType
}

// Create prepares the partial file for a download of size bytes, creating
// parent directories as needed.
func (f *Files) Create(path string, size int64) error {
	resolved := f.resolve(path)
	if dir := filepath.Dir(resolved); dir != "" && dir != "." {
		if err := f.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("localfs: mkdirall %q: %w", dir, err)
		}
	}

	partial := resolved + PartialSuffix
	file, err := f.fs.OpenFile(partial, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("localfs: create %q: %w", partial, err)
	}
	if size > 0 {
		if err := file.Truncate(size); err != nil {
			_ = file.Close()
			_ = f.fs.Remove(partial)
			return fmt.Errorf("localfs: truncate %q to %d: %w", partial, size, err)
		}
	}

	f.mu.Lock()
	if old, ok := f.writers[path]; ok {
		_ = old.file.Close()
	}
	f.writers[path] = &writer{file: file}
	f.mu.Unlock()
	return nil
}

// WriteAt writes data into the partial file of path at off.
func (f *Files) WriteAt(path string, data []byte, off int64) error {
	f.mu.Lock()
	w, ok := f.writers[path]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("localfs: %q is not open for writing", path)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if wa, ok := w.file.(io.WriterAt); ok {
		if _, err := wa.WriteAt(data, off); err != nil {
			return fmt.Errorf("localfs: writeat %q off=%d: %w", path, off, err)
		}
		return nil
	}
	if _, err := w.file.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("localfs: seek %q off=%d: %w", path, off, err)
	}
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("localfs: write %q off=%d: %w", path, off, err)
	}
	return nil
}

// Commit closes the partial file and moves it to path.
func (f *Files) Commit(path string) error {
	if err := f.close(path); err != nil {
		return err
	}
	resolved := f.resolve(path)
	if _, err := f.fs.Stat(resolved); err == nil {
		if err := f.fs.Remove(resolved); err != nil {
			return fmt.Errorf("localfs: replace %q: %w", path, err)
		}
	}
	if err := f.fs.Rename(resolved+PartialSuffix, resolved); err != nil {
		return fmt.Errorf("localfs: rename %q: %w", path, err)
	}
	return nil
}

// Discard closes and removes the partial file of path.
func (f *Files) Discard(path string) error {
	closeErr := f.close(path)
	if err := f.fs.Remove(f.resolve(path) + PartialSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("localfs: remove %q: %w", path+PartialSuffix, err)
	}
	return closeErr
}

func (f *Files) close(path string) error {
	f.mu.Lock()
	w, ok := f.writers[path]
	delete(f.writers, path)
	f.mu.Unlock()
	if !ok {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("localfs: close %q: %w", path, err)
	}
	return nil
}
