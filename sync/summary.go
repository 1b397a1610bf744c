package sync

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Operations and statuses recorded in summary rows. The tokens are a report
// contract consumed by the operators' log scrapers, so they never change
// with the destination kind.
const (
	OpEnsurePDF = "ensure_pdf"
	OpUpload    = "upload"

	StatusBuilt         = "built"
	StatusAlreadyExists = "already exists"
	StatusFailed        = "failed"
)

// Row is one unit of completed (or failed) work.
type Row struct {
	IDV       string
	Operation string
	Status    string
	Millis    int64
	// Detail is the request URL for ensures, the destination URL for
	// uploads, or the error text for failures.
	Detail string
	// Size is the uploaded byte count; only successful upload rows carry
	// one.
	Size    int64
	HasSize bool
}

// Collector accumulates rows from concurrently running jobs.
type Collector struct {
	mu   sync.Mutex
	rows []Row
}

func (c *Collector) Add(r Row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, r)
}

// Report is the outcome of a sync run.
type Report struct {
	// Rows is every summary row, sorted by identifier.
	Rows []Row
	// Submissions is the number of distinct submissions in the todo list.
	Submissions int
	Elapsed     time.Duration
}

func (c *Collector) Report(submissions int, elapsed time.Duration) *Report {
	c.mu.Lock()
	rows := make([]Row, len(c.rows))
	copy(rows, c.rows)
	c.mu.Unlock()

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].IDV < rows[j].IDV })
	return &Report{Rows: rows, Submissions: submissions, Elapsed: elapsed}
}

// Failed counts rows that record a failure.
func (r *Report) Failed() int {
	n := 0
	for _, row := range r.Rows {
		if row.Status == StatusFailed {
			n++
		}
	}
	return n
}

// UploadedBytes totals the bytes copied to the destination.
func (r *Report) UploadedBytes() int64 {
	var n int64
	for _, row := range r.Rows {
		if row.HasSize {
			n += row.Size
		}
	}
	return n
}

// WriteCSV writes the rows in the legacy report layout: identifier,
// operation, status, elapsed milliseconds and detail, with a trailing size
// column on successful uploads.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	for _, row := range r.Rows {
		fields := []string{row.IDV, row.Operation, row.Status, strconv.FormatInt(row.Millis, 10), row.Detail}
		if row.HasSize {
			fields = append(fields, strconv.FormatInt(row.Size, 10))
		}
		if err := cw.Write(fields); err != nil {
			return errors.Wrap(err, "writing summary row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing summary rows")
}
