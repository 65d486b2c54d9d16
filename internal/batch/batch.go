// Package batch expands a local directory or a remote prefix into one
// transfer job per file.
package batch

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// Walker walks a local directory tree.
type Walker interface {
	Walk(root string, fn filepath.WalkFunc) error
}

// Stater describes local files.
type Stater interface {
	Stat(path string) (os.FileInfo, error)
}

// LocalFile is a regular file found under a batch root.
type LocalFile struct {
	// Path is the file's path as the walker reports it
	Path string
	// Rel is the slash-separated path relative to the root
	Rel     string
	Size    int64
	ModTime time.Time
}

// modTimeTolerance absorbs coarse filesystem and service timestamps.
const modTimeTolerance = 2 * time.Second

// Scan returns the regular files under root that pass filter, ordered by Rel.
func Scan(ctx context.Context, w Walker, root string, filter Filter) ([]LocalFile, error) {
	var files []LocalFile
	err := w.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", p, err)
		}
		rel = filepath.ToSlash(rel)
		if !filter.Match(rel) {
			return nil
		}
		files = append(files, LocalFile{Path: p, Rel: rel, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, errors.NewError("scan", err).WithMessage(root)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}

// List returns the objects under prefix that pass filter, matched on the key
// relative to prefix. Zero-byte "folder/" markers are skipped.
func List(ctx context.Context, l xfertypes.Lister, bucket, prefix string, filter Filter) ([]xfertypes.ListedObject, error) {
	var objects []xfertypes.ListedObject
	err := l.ListObjects(ctx, bucket, prefix, func(o xfertypes.ListedObject) error {
		if strings.HasSuffix(o.Key, "/") {
			return nil
		}
		if filter.Match(relativeKey(o.Key, prefix)) {
			objects = append(objects, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return objects, nil
}

// UploadSpecs builds one upload per file. Keys are dest.Key joined with the
// file's relative path; other attributes are copied from tmpl.
func UploadSpecs(files []LocalFile, dest xfertypes.Object, tmpl xfertypes.JobSpec) []xfertypes.JobSpec {
	specs := make([]xfertypes.JobSpec, len(files))
	for i, f := range files {
		spec := tmpl
		spec.Kind = xfertypes.KindUpload
		spec.LocalPath = f.Path
		spec.Remote = xfertypes.Object{Bucket: dest.Bucket, Key: joinKey(dest.Key, f.Rel)}
		specs[i] = spec
	}
	return specs
}

// DownloadSpecs builds one download per object into dir, mirroring the keys
// below src.Key. Listed sizes are carried over so no head request is needed.
func DownloadSpecs(objects []xfertypes.ListedObject, src xfertypes.Object, dir string, tmpl xfertypes.JobSpec) ([]xfertypes.JobSpec, error) {
	specs := make([]xfertypes.JobSpec, 0, len(objects))
	for _, o := range objects {
		rel := relativeKey(o.Key, src.Key)
		if rel == "" || escapes(rel) {
			return nil, errors.NewObjectError("download", src.Bucket, o.Key, errors.ErrInvalidObjectKey).
				WithMessage("key does not map to a path below the target directory")
		}

		spec := tmpl
		spec.Kind = xfertypes.KindDownload
		spec.LocalPath = localPath(dir, rel)
		spec.Remote = xfertypes.Object{Bucket: src.Bucket, Key: o.Key}
		spec.Size = o.Size
		specs = append(specs, spec)
	}
	return specs, nil
}

// SkipCurrentUploads drops files whose object under dest already has the same
// size and is not older than the file.
func SkipCurrentUploads(ctx context.Context, l xfertypes.Lister, files []LocalFile, dest xfertypes.Object) ([]LocalFile, error) {
	prefix := dest.Key
	if prefix != "" {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
	}
	remote := make(map[string]xfertypes.ListedObject)
	if err := l.ListObjects(ctx, dest.Bucket, prefix, func(o xfertypes.ListedObject) error {
		remote[o.Key] = o
		return nil
	}); err != nil {
		return nil, err
	}

	kept := make([]LocalFile, 0, len(files))
	for _, f := range files {
		o, ok := remote[joinKey(dest.Key, f.Rel)]
		if ok && current(f.Size, f.ModTime, o.Size, o.LastModified) {
			continue
		}
		kept = append(kept, f)
	}
	return kept, nil
}

// SkipCurrentDownloads drops objects whose file under dir already has the
// same size and is not older than the object. Unreadable files are kept.
func SkipCurrentDownloads(s Stater, objects []xfertypes.ListedObject, src xfertypes.Object, dir string) []xfertypes.ListedObject {
	kept := make([]xfertypes.ListedObject, 0, len(objects))
	for _, o := range objects {
		rel := relativeKey(o.Key, src.Key)
		if rel != "" && !escapes(rel) {
			info, err := s.Stat(localPath(dir, rel))
			if err == nil && info.Mode().IsRegular() && current(o.Size, o.LastModified, info.Size(), info.ModTime()) {
				continue
			}
		}
		kept = append(kept, o)
	}
	return kept
}

// current reports whether a destination already holds the source.
func current(srcSize int64, srcMod time.Time, dstSize int64, dstMod time.Time) bool {
	return srcSize == dstSize && !dstMod.Add(modTimeTolerance).Before(srcMod)
}

func localPath(dir, rel string) string {
	return filepath.Join(dir, filepath.FromSlash(rel))
}

func joinKey(prefix, rel string) string {
	if prefix == "" {
		return rel
	}
	return strings.TrimSuffix(prefix, "/") + "/" + rel
}

func relativeKey(key, prefix string) string {
	return strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
}

func escapes(rel string) bool {
	clean := path.Clean(rel)
	return clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean)
}
