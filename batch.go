package transfer

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/errors"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/internal/batch"
	"github.com/input-output-hk/catalyst-forge-libs/aws/transfer/xfertypes"
)

// BatchOptions shapes the jobs created by UploadDir and DownloadPrefix.
type BatchOptions struct {
	// Include and Exclude filter on the slash-separated path relative to the
	// directory or prefix. "dir/" matches a subtree and "**" any number of
	// segments; everything else follows path.Match.
	Include []string
	Exclude []string

	// SkipUnchanged leaves out files whose destination already has the same
	// size and is not older than the source.
	SkipUnchanged bool

	PartSize    int64
	ContentType string
}

func (o BatchOptions) filter() batch.Filter {
	return batch.Filter{Include: o.Include, Exclude: o.Exclude}
}

func (o BatchOptions) template() xfertypes.JobSpec {
	return xfertypes.JobSpec{PartSize: o.PartSize, ContentType: o.ContentType}
}

// UploadDir submits one upload per regular file under dir. Each object key
// is dest.Key joined with the file's path relative to dir.
//
// Jobs are submitted in path order. On error the IDs submitted so far are
// returned alongside it so the caller can wait on or cancel them.
func (m *Manager) UploadDir(ctx context.Context, dir string, dest xfertypes.Object, opts BatchOptions) ([]xfertypes.JobID, error) {
	filter := opts.filter()
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	files, err := batch.Scan(ctx, m.files, dir, filter)
	if err != nil {
		return nil, err
	}
	scanned := len(files)
	if opts.SkipUnchanged {
		lister, err := m.lister("uploadDir")
		if err != nil {
			return nil, err
		}
		if files, err = batch.SkipCurrentUploads(ctx, lister, files, dest); err != nil {
			return nil, err
		}
	}

	m.log.WithFields(logrus.Fields{
		"dir":     dir,
		"dest":    dest.String(),
		"files":   len(files),
		"skipped": scanned - len(files),
	}).Info("submitting directory upload")

	return m.submitAll(ctx, batch.UploadSpecs(files, dest, opts.template()))
}

// DownloadPrefix submits one download per object under src.Key, mirroring
// the key layout below the prefix inside dir. The storage backend must be
// able to list objects.
func (m *Manager) DownloadPrefix(ctx context.Context, src xfertypes.Object, dir string, opts BatchOptions) ([]xfertypes.JobID, error) {
	filter := opts.filter()
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	lister, err := m.lister("downloadPrefix")
	if err != nil {
		return nil, err
	}

	objects, err := batch.List(ctx, lister, src.Bucket, src.Key, filter)
	if err != nil {
		return nil, err
	}
	listed := len(objects)
	if opts.SkipUnchanged {
		objects = batch.SkipCurrentDownloads(m.files, objects, src, dir)
	}
	specs, err := batch.DownloadSpecs(objects, src, dir, opts.template())
	if err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"source":  src.String(),
		"dir":     dir,
		"objects": len(specs),
		"skipped": listed - len(specs),
	}).Info("submitting prefix download")

	return m.submitAll(ctx, specs)
}

func (m *Manager) lister(op string) (xfertypes.Lister, error) {
	lister, ok := m.store.(xfertypes.Lister)
	if !ok {
		return nil, errors.NewError(op, errors.ErrInvalidInput).
			WithMessage("storage backend cannot list objects")
	}
	return lister, nil
}

func (m *Manager) submitAll(ctx context.Context, specs []xfertypes.JobSpec) ([]xfertypes.JobID, error) {
	ids := make([]xfertypes.JobID, 0, len(specs))
	for _, spec := range specs {
		id, err := m.Submit(ctx, spec)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
