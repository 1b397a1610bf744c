package arxivsync

import (
	"os"
	"time"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Settings is the full configuration for a run. Every section applies its own
// defaults, so the zero value validates to a working production setup.
type Settings struct {
	Hosts     []SyncHost      `yaml:"hosts"`
	Ensure    EnsureConfig    `yaml:"ensure"`
	Upload    UploadConfig    `yaml:"upload"`
	Paths     PathConfig      `yaml:"paths"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// SyncHost is one web node that can build PDFs, with the number of concurrent
// ensure requests it should be sent.
type SyncHost struct {
	Name    string `yaml:"name"`
	Workers int    `yaml:"workers"`
}

// EnsureConfig controls how missing PDFs are requested and waited for.
type EnsureConfig struct {
	// Scheme is the URL scheme used to reach the web nodes. Production uses
	// https; tests point at plain-http servers.
	Scheme string `yaml:"scheme"`
	// UserAgent is sent with every build request.
	UserAgent string `yaml:"user_agent"`
	// VerifyCerts enables TLS verification. The web pool serves internal
	// certificates, so the legacy pipeline runs with verification off.
	VerifyCerts bool `yaml:"verify_certs"`
	// PDFWaitSeconds bounds the post-request wait for the file to appear.
	PDFWaitSeconds int `yaml:"pdf_wait_seconds"`
	// PollIntervalMS is the ps_cache re-check cadence while waiting.
	PollIntervalMS int `yaml:"poll_interval_ms"`
	// Attempts is the retry budget for one ensure, including the first try.
	Attempts int `yaml:"attempts"`
}

// PDFWait returns the bounded wait as a duration.
func (c *EnsureConfig) PDFWait() time.Duration {
	return time.Duration(c.PDFWaitSeconds) * time.Second
}

// PollInterval returns the re-check cadence as a duration.
func (c *EnsureConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// UploadConfig controls the destination bucket and the upload pool.
type UploadConfig struct {
	// Target is the destination: a gs:// bucket URL, or a file:// URL or
	// plain directory path for rehearsal runs.
	Target string `yaml:"target"`
	// Workers is the size of the upload pool.
	Workers int `yaml:"workers"`
	// Attempts is the retry budget for one upload, including the first try.
	Attempts int `yaml:"attempts"`
}

// PathConfig locates the legacy filesystems. Bucket keys are derived from
// these paths, so they rarely change outside of tests.
type PathConfig struct {
	FTPPrefix     string `yaml:"ftp_prefix"`
	PSCachePrefix string `yaml:"ps_cache_prefix"`
}

// BootstrapConfig controls provisioning of the legacy Python environment that
// still runs beside this binary on the sync host.
type BootstrapConfig struct {
	// Python is the interpreter used to create the virtual environment.
	Python string `yaml:"python"`
	// VenvDir is the environment directory, relative to Dir unless absolute.
	VenvDir string `yaml:"venv_dir"`
	// Dir is the working directory for all recipes; empty means the current
	// directory.
	Dir string `yaml:"dir"`
	// Poetryspec is the pip requirement that installs the dependency
	// manager, e.g. "poetry" or "poetry==1.8.3".
	PoetrySpec string `yaml:"poetry_spec"`
	// SyncArgs overrides the dependency-sync invocation as a single shell
	// string, split with shlex. Empty means "install --sync".
	SyncArgs string `yaml:"sync_args"`
}

// NewSettings reads settings from a yaml file and applies defaults. A missing
// file yields pure defaults so the tool runs unconfigured on a standard host.
func NewSettings(path string) (*Settings, error) {
	s := &Settings{}

	if path != "" {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			grip.Debugf("no settings file at '%s', using defaults", path)
		} else if err != nil {
			return nil, errors.Wrapf(err, "reading settings file '%s'", path)
		} else if err := yaml.Unmarshal(data, s); err != nil {
			return nil, errors.Wrapf(err, "parsing settings file '%s'", path)
		}
	}

	if err := s.ValidateAndDefault(); err != nil {
		return nil, errors.WithStack(err)
	}
	return s, nil
}

// ValidateAndDefault checks every section and fills in defaults.
func (s *Settings) ValidateAndDefault() error {
	catcher := grip.NewBasicCatcher()

	if len(s.Hosts) == 0 {
		s.Hosts = DefaultEnsureHosts()
	}
	for i := range s.Hosts {
		if s.Hosts[i].Name == "" {
			catcher.Errorf("host entry %d is missing a name", i)
		}
		if s.Hosts[i].Workers <= 0 {
			s.Hosts[i].Workers = DefaultHostWorkers
		}
	}

	catcher.Add(s.Ensure.ValidateAndDefault())
	catcher.Add(s.Upload.ValidateAndDefault())
	catcher.Add(s.Paths.ValidateAndDefault())
	catcher.Add(s.Bootstrap.ValidateAndDefault())

	return catcher.Resolve()
}

// TotalEnsureWorkers reports the combined size of the per-host ensure pools.
func (s *Settings) TotalEnsureWorkers() int {
	total := 0
	for _, h := range s.Hosts {
		total += h.Workers
	}
	return total
}

func (c *EnsureConfig) ValidateAndDefault() error {
	if c.Scheme == "" {
		c.Scheme = "https"
	}
	if c.Scheme != "http" && c.Scheme != "https" {
		return errors.Errorf("invalid ensure scheme '%s'", c.Scheme)
	}
	if c.UserAgent == "" {
		c.UserAgent = EnsureUserAgent
	}
	if c.PDFWaitSeconds <= 0 {
		c.PDFWaitSeconds = int(DefaultPDFWait / time.Second)
	}
	if c.PollIntervalMS <= 0 {
		c.PollIntervalMS = int(DefaultPollInterval / time.Millisecond)
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultEnsureAttempts
	}
	return nil
}

func (c *UploadConfig) ValidateAndDefault() error {
	if c.Target == "" {
		c.Target = DefaultBucket
	}
	if c.Workers <= 0 {
		c.Workers = DefaultUploadWorkers
	}
	if c.Attempts <= 0 {
		c.Attempts = DefaultUploadAttempts
	}
	return nil
}

func (c *PathConfig) ValidateAndDefault() error {
	if c.FTPPrefix == "" {
		c.FTPPrefix = DefaultFTPPrefix
	}
	if c.PSCachePrefix == "" {
		c.PSCachePrefix = DefaultPSCachePrefix
	}
	return nil
}

func (c *BootstrapConfig) ValidateAndDefault() error {
	if c.Python == "" {
		c.Python = "python3"
	}
	if c.VenvDir == "" {
		c.VenvDir = "venv"
	}
	if c.PoetrySpec == "" {
		c.PoetrySpec = "poetry"
	}
	return nil
}
