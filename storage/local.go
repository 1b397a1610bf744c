package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/evergreen-ci/pail"
	"github.com/pkg/errors"
)

// localDestination writes to a directory through a pail local bucket. It
// exists for rehearsal runs against scratch space and for tests.
type localDestination struct {
	bucket pail.Bucket
	path   string
}

func newLocalDestination(path string) (*localDestination, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating bucket directory '%s'", path)
	}
	bucket, err := pail.NewLocalBucket(pail.LocalOptions{Path: path})
	if err != nil {
		return nil, errors.Wrap(err, "creating local bucket")
	}
	return &localDestination{bucket: bucket, path: path}, nil
}

func (d *localDestination) String() string { return "file://" + d.path }

func (d *localDestination) Check(ctx context.Context) error {
	return errors.Wrapf(d.bucket.Check(ctx), "bucket directory '%s' is not usable", d.path)
}

func (d *localDestination) Stat(_ context.Context, key string) (bool, int64, error) {
	info, err := os.Stat(filepath.Join(d.path, filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, errors.Wrapf(err, "statting object '%s'", key)
	}
	if info.IsDir() {
		return false, 0, nil
	}
	return true, info.Size(), nil
}

// Upload stores the file under key. Local buckets have nowhere to record a
// content type, so it is dropped.
func (d *localDestination) Upload(ctx context.Context, key, localPath, _ string) error {
	return errors.Wrapf(d.bucket.Upload(ctx, key, localPath), "copying '%s' to '%s'", localPath, key)
}

func (d *localDestination) Close() error { return nil }
