package sync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/evergreen-ci/utility"
	"github.com/pkg/errors"

	arxivsync "github.com/arXiv/arxiv-sync"
	"github.com/arXiv/arxiv-sync/identifier"
)

const (
	retryMinDelay     = time.Second
	retryMaxDelay     = 10 * time.Second
	queuePollInterval = 100 * time.Millisecond
)

// Ensurer asks web nodes to build versioned PDFs and waits for them to land
// in the shared ps_cache filesystem.
type Ensurer struct {
	client      *http.Client
	scheme      string
	userAgent   string
	cachePrefix string
	wait        time.Duration
	poll        time.Duration
	attempts    int
}

// NewEnsurer builds an Ensurer from settings. Call Close to return its HTTP
// client to the pool.
func NewEnsurer(s *arxivsync.Settings) *Ensurer {
	client := utility.GetHTTPClient()
	client.Timeout = s.Ensure.PDFWait()
	if !s.Ensure.VerifyCerts {
		// The web nodes are addressed directly, bypassing the load
		// balancer that holds the public certificate.
		if transport, ok := client.Transport.(*http.Transport); ok {
			transport.TLSClientConfig.InsecureSkipVerify = true
		}
	}
	return &Ensurer{
		client:      client,
		scheme:      s.Ensure.Scheme,
		userAgent:   s.Ensure.UserAgent,
		cachePrefix: s.Paths.PSCachePrefix,
		wait:        s.Ensure.PDFWait(),
		poll:        s.Ensure.PollInterval(),
		attempts:    s.Ensure.Attempts,
	}
}

// Close returns the pooled HTTP client.
func (e *Ensurer) Close() { utility.PutHTTPClient(e.client) }

// URL is the PDF endpoint that forces a build of id's PDF on the given host.
func (e *Ensurer) URL(host string, id identifier.ID) (string, error) {
	name, err := id.VersionedFilename()
	if err != nil {
		return "", errors.WithStack(err)
	}
	return fmt.Sprintf("%s://%s/pdf/%s.pdf?nocdn=1", e.scheme, host, name), nil
}

// EnsurePDF makes sure the versioned PDF for id exists in ps_cache,
// requesting a build from host when it does not. It returns the cache path
// and a status reporting whether the file was already present or built
// during this call. Attempts that fail are retried with exponential backoff
// and jitter.
func (e *Ensurer) EnsurePDF(ctx context.Context, host string, id identifier.ID) (string, string, error) {
	path, err := id.PDFCachePath(e.cachePrefix)
	if err != nil {
		return "", "", errors.WithStack(err)
	}
	url, err := e.URL(host, id)
	if err != nil {
		return "", "", errors.WithStack(err)
	}

	status := StatusAlreadyExists
	if err := utility.Retry(ctx, func() (bool, error) {
		if utility.FileExists(path) {
			return false, nil
		}
		if err := e.requestBuild(ctx, url); err != nil {
			return true, err
		}
		if err := e.waitForFile(ctx, path, url); err != nil {
			return true, err
		}
		status = StatusBuilt
		return false, nil
	}, utility.RetryOptions{
		MaxAttempts: e.attempts,
		MinDelay:    retryMinDelay,
		MaxDelay:    retryMaxDelay,
	}); err != nil {
		return "", "", err
	}
	return path, status, nil
}

func (e *Ensurer) requestBuild(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "requesting '%s'", url)
	}
	defer resp.Body.Close()

	// The PDF lands in ps_cache, not in this response; drain the body so
	// the connection can be reused.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return errors.Wrapf(err, "draining response from '%s'", url)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("GET status %d for '%s'", resp.StatusCode, url)
	}
	return nil
}

func (e *Ensurer) waitForFile(ctx context.Context, path, url string) error {
	deadline := time.Now().Add(e.wait)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for '%s'", path)
		case <-timer.C:
			if utility.FileExists(path) {
				return nil
			}
			if time.Now().After(deadline) {
				return errors.Errorf("no PDF after waiting %s for '%s'", e.wait, url)
			}
			timer.Reset(e.poll)
		}
	}
}
