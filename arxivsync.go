// Package arxivsync holds the shared configuration and constants for the
// arxiv-sync tool, which uploads published arXiv artifacts from the legacy
// filesystems to Google Cloud Storage based on a publish log.
package arxivsync

import "time"

const (
	// AppName is the name of the CLI binary.
	AppName = "arxiv-sync"

	// ClientVersion is released with every deploy of the sync tooling.
	ClientVersion = "2026-08-12"

	// DefaultBucket is the production destination for published artifacts.
	DefaultBucket = "gs://arxiv-production-data"

	// DefaultConfigFile is the conventional location of the settings file on
	// the sync host. A missing file is not an error; defaults apply.
	DefaultConfigFile = "/etc/arxiv-sync.yml"

	// EnsureUserAgent identifies PDF build requests made to the arxiv web
	// nodes so they can be told apart from reader traffic.
	EnsureUserAgent = "periodic-rebuild"

	// DefaultFTPPrefix is the root of the legacy submission filesystem.
	DefaultFTPPrefix = "/data/ftp"

	// DefaultPSCachePrefix is the root of the shared built-PDF cache.
	DefaultPSCachePrefix = "/cache/ps_cache"
)

const (
	// DefaultPDFWait bounds how long an ensure job waits for the web node to
	// write a requested PDF into ps_cache.
	DefaultPDFWait = 10 * time.Minute

	// DefaultPollInterval is how often an ensure job re-checks ps_cache.
	DefaultPollInterval = 200 * time.Millisecond

	// DefaultEnsureAttempts and DefaultUploadAttempts match the legacy
	// pipeline's retry budgets.
	DefaultEnsureAttempts = 3
	DefaultUploadAttempts = 4

	// DefaultUploadWorkers is the size of the upload pool.
	DefaultUploadWorkers = 4

	// DefaultHostWorkers is the per-host concurrency for PDF ensures when a
	// host entry does not set its own.
	DefaultHostWorkers = 3
)

// DefaultEnsureHosts returns the web nodes that build PDFs on demand. The
// front-line nodes (web2-web4) are deliberately excluded; rebuild traffic
// belongs on the back pool.
func DefaultEnsureHosts() []SyncHost {
	hosts := make([]SyncHost, 0, 6)
	for _, name := range []string{
		"web5.arxiv.org",
		"web6.arxiv.org",
		"web7.arxiv.org",
		"web8.arxiv.org",
		"web9.arxiv.org",
		"web10.arxiv.org",
	} {
		hosts = append(hosts, SyncHost{Name: name, Workers: DefaultHostWorkers})
	}
	return hosts
}
