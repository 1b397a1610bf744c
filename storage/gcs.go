package storage

import (
	"context"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// gcsDestination writes to a Google Cloud Storage bucket using application
// default credentials.
type gcsDestination struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

func newGCSDestination(ctx context.Context, name string) (*gcsDestination, error) {
	client, err := storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	if err != nil {
		return nil, errors.Wrap(err, "creating storage client")
	}
	return &gcsDestination{
		client: client,
		bucket: client.Bucket(name),
		name:   name,
	}, nil
}

func (d *gcsDestination) String() string { return "gs://" + d.name }

func (d *gcsDestination) Check(ctx context.Context) error {
	if _, err := d.bucket.Attrs(ctx); err != nil {
		return errors.Wrapf(err, "bucket '%s' is not accessible", d.name)
	}
	return nil
}

func (d *gcsDestination) Stat(ctx context.Context, key string) (bool, int64, error) {
	attrs, err := d.bucket.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, errors.Wrapf(err, "getting attributes of '%s'", key)
	}
	return true, attrs.Size, nil
}

func (d *gcsDestination) Upload(ctx context.Context, key, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "opening '%s'", localPath)
	}
	defer f.Close()

	w := d.bucket.Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return errors.Wrapf(err, "writing '%s'", key)
	}
	return errors.Wrapf(w.Close(), "finalizing '%s'", key)
}

func (d *gcsDestination) Close() error {
	return errors.Wrap(d.client.Close(), "closing storage client")
}
