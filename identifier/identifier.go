// Package identifier parses arXiv paper identifiers, both the modern
// YYMM.NNNNN form and the legacy archive/YYMMNNN form, and derives the legacy
// filesystem locations for a paper's artifacts.
package identifier

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	modernRE = regexp.MustCompile(`^(\d{2})(\d{2})\.(\d{4,5})(?:v(\d+))?$`)
	legacyRE = regexp.MustCompile(`^([a-z]+(?:-[a-z]+)*)(\.[A-Z]{2})?/(\d{2})(\d{2})(\d{3})(?:v(\d+))?$`)
)

// ID is a parsed arXiv identifier. The zero value is not valid; use Parse.
type ID struct {
	archive string // bare archive for legacy IDs, empty for modern ones
	subject string // legacy subject class including the leading dot, or empty
	yymm    string
	num     string // zero-padded sequence: 4-5 digits modern, 3 legacy
	version int    // 0 means no version
}

// Parse converts a string such as "2202.00235v2", "hep-ph/0309136" or
// "math.GT/0309136v1" into an ID. A leading "arXiv:" prefix is accepted.
func Parse(s string) (ID, error) {
	raw := strings.TrimSpace(s)
	if prefixed := strings.TrimPrefix(raw, "arXiv:"); prefixed != raw {
		raw = prefixed
	}
	if raw == "" {
		return ID{}, errors.New("empty identifier")
	}

	if m := modernRE.FindStringSubmatch(raw); m != nil {
		id := ID{yymm: m[1] + m[2], num: m[3]}
		if err := id.finish(m[2], m[4], raw); err != nil {
			return ID{}, err
		}
		return id, nil
	}

	if m := legacyRE.FindStringSubmatch(raw); m != nil {
		id := ID{archive: m[1], subject: m[2], yymm: m[3] + m[4], num: m[5]}
		if err := id.finish(m[4], m[6], raw); err != nil {
			return ID{}, err
		}
		return id, nil
	}

	return ID{}, errors.Errorf("unrecognized arXiv identifier '%s'", s)
}

func (id *ID) finish(month, version, raw string) error {
	if mm, err := strconv.Atoi(month); err != nil || mm < 1 || mm > 12 {
		return errors.Errorf("identifier '%s' has invalid month '%s'", raw, month)
	}
	if version == "" {
		return nil
	}
	v, err := strconv.Atoi(version)
	if err != nil || v < 1 {
		return errors.Errorf("identifier '%s' has invalid version '%s'", raw, version)
	}
	id.version = v
	return nil
}

// IsOld reports whether this is a legacy (pre-2007) identifier.
func (id ID) IsOld() bool { return id.archive != "" }

// Archive is the directory archive on the legacy filesystems: "arxiv" for
// modern identifiers, the bare archive (no subject class) for legacy ones.
func (id ID) Archive() string {
	if id.IsOld() {
		return id.archive
	}
	return "arxiv"
}

// YYMM is the submission year-month, e.g. "2202".
func (id ID) YYMM() string { return id.yymm }

// Filename is the identifier as it appears in file names: "2202.00235" for
// modern IDs, the bare seven digits ("0309136") for legacy ones.
func (id ID) Filename() string {
	if id.IsOld() {
		return id.yymm + id.num
	}
	return id.yymm + "." + id.num
}

// Version is the parsed version, or 0 when none was given.
func (id ID) Version() int { return id.version }

// WithVersion returns a copy of the ID carrying the given version.
func (id ID) WithVersion(v int) ID {
	id.version = v
	return id
}

// Base is the canonical identifier without a version, keeping any legacy
// subject class: "math.GT/0309136" or "2202.00235".
func (id ID) Base() string {
	if id.IsOld() {
		return id.archive + id.subject + "/" + id.yymm + id.num
	}
	return id.yymm + "." + id.num
}

// IDV is the canonical identifier with its version. It is only meaningful
// when a version is set.
func (id ID) IDV() string {
	if id.version == 0 {
		return id.Base()
	}
	return fmt.Sprintf("%sv%d", id.Base(), id.version)
}

func (id ID) String() string { return id.IDV() }

// VersionedFilename is Filename plus the version suffix, e.g. "2202.00235v2".
// It errors when the ID has no version, since versionless artifact names are
// never valid in the PDF cache.
func (id ID) VersionedFilename() (string, error) {
	if id.version == 0 {
		return "", errors.Errorf("identifier '%s' has no version", id.Base())
	}
	return fmt.Sprintf("%sv%d", id.Filename(), id.version), nil
}

// AbsPath is the abs file location under the FTP tree, e.g.
// /data/ftp/arxiv/papers/2202/2202.00235.abs. Abs files are not versioned.
func (id ID) AbsPath(ftpPrefix string) string {
	return path.Join(ftpPrefix, id.Archive(), "papers", id.yymm, id.Filename()+".abs")
}

// PDFCachePath is the built-PDF location under the ps_cache tree for this
// version, e.g. /cache/ps_cache/arxiv/pdf/2202/2202.00235v1.pdf.
func (id ID) PDFCachePath(cachePrefix string) (string, error) {
	name, err := id.VersionedFilename()
	if err != nil {
		return "", errors.WithStack(err)
	}
	return path.Join(cachePrefix, id.Archive(), "pdf", id.yymm, name+".pdf"), nil
}
