// Package storage abstracts the destination buckets synced artifacts are
// written to. Production runs target Google Cloud Storage; rehearsal runs and
// tests target a local directory.
package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Destination is a bucket-like target for published artifacts.
type Destination interface {
	fmt.Stringer

	// Check verifies the destination is reachable and writable enough to
	// sync into.
	Check(ctx context.Context) error
	// Stat reports whether an object exists and, if so, its size.
	Stat(ctx context.Context, key string) (exists bool, size int64, err error)
	// Upload copies a local file to the given key with the given content
	// type. Implementations that cannot record a content type ignore it.
	Upload(ctx context.Context, key, localPath, contentType string) error
	// Close releases any client resources.
	Close() error
}

// Status reports what Put did with a file.
type Status string

const (
	// StatusUploaded means the file was copied to the destination.
	StatusUploaded Status = "uploaded"
	// StatusAlreadyOnGS means an object of identical size was already
	// present, so nothing was copied. The value is a legacy report token
	// and is kept for every destination kind.
	StatusAlreadyOnGS Status = "already_on_gs"
)

// Result describes a completed Put.
type Result struct {
	Status Status
	// Bytes is the number of bytes copied; zero when the object was
	// already present.
	Bytes int64
}

// Put uploads localPath under key unless the destination already holds an
// object of the same size there.
func Put(ctx context.Context, dst Destination, localPath, key string) (Result, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return Result{}, errors.Wrapf(err, "statting local file '%s'", localPath)
	}

	exists, size, err := dst.Stat(ctx, key)
	if err != nil {
		return Result{}, errors.Wrapf(err, "statting object '%s'", key)
	}
	if exists && size == info.Size() {
		return Result{Status: StatusAlreadyOnGS}, nil
	}

	if err := dst.Upload(ctx, key, localPath, ContentType(key)); err != nil {
		return Result{}, errors.Wrapf(err, "uploading '%s' as '%s'", localPath, key)
	}
	return Result{Status: StatusUploaded, Bytes: info.Size()}, nil
}

// KeyFor maps a local artifact path to its bucket key. Only files under
// /cache/ and /data/ have a defined location in the bucket.
func KeyFor(localPath string) (string, error) {
	for _, prefix := range []string{"/cache/", "/data/"} {
		if strings.HasPrefix(localPath, prefix) {
			return strings.TrimPrefix(localPath, prefix), nil
		}
	}
	return "", errors.Errorf("cannot convert path '%s' to a bucket key", localPath)
}

// ContentType returns the content type stored with a key, or empty when the
// extension is not one the sync pipeline produces.
func ContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(key, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(key, ".abs"):
		return "text/plain"
	default:
		return ""
	}
}

// NewDestination builds a Destination from a target string: "gs://bucket"
// for Cloud Storage, "file:///dir" or a bare directory path for a local
// bucket.
func NewDestination(ctx context.Context, target string) (Destination, error) {
	switch {
	case strings.HasPrefix(target, "gs://"):
		name := strings.Trim(strings.TrimPrefix(target, "gs://"), "/")
		if name == "" {
			return nil, errors.Errorf("target '%s' names no bucket", target)
		}
		if strings.Contains(name, "/") {
			return nil, errors.Errorf("target '%s' must name a bucket without a key prefix", target)
		}
		dst, err := newGCSDestination(ctx, name)
		return dst, errors.Wrapf(err, "opening GCS bucket '%s'", name)
	case strings.HasPrefix(target, "file://"):
		dst, err := newLocalDestination(strings.TrimPrefix(target, "file://"))
		return dst, errors.Wrapf(err, "opening local bucket '%s'", target)
	case target == "":
		return nil, errors.New("no sync target configured")
	default:
		dst, err := newLocalDestination(target)
		return dst, errors.Wrapf(err, "opening local bucket '%s'", target)
	}
}
