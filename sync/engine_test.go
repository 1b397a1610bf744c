package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arxivsync "github.com/arXiv/arxiv-sync"
	"github.com/arXiv/arxiv-sync/publish"
	"github.com/arXiv/arxiv-sync/storage"
)

// testKeyFor maps paths under root to keys the way production maps /data and
// /cache paths, falling back to the real mapping for anything else.
func testKeyFor(root string) func(string) (string, error) {
	return func(p string) (string, error) {
		if strings.HasPrefix(p, root+string(filepath.Separator)) {
			return filepath.ToSlash(strings.TrimPrefix(p, root+string(filepath.Separator))), nil
		}
		return storage.KeyFor(p)
	}
}

func testEngineSettings(t *testing.T, tmp, host string) *arxivsync.Settings {
	s := testEnsureSettings(t, tmp)
	s.Ensure.Attempts = 2
	s.Hosts = []arxivsync.SyncHost{{Name: host, Workers: 2}}
	s.Upload.Workers = 2
	s.Upload.Attempts = 2
	s.Paths.FTPPrefix = filepath.Join(tmp, "ftp")
	return s
}

func writeLocalFile(t *testing.T, path, contents string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

func buildHandler(t *testing.T, cachePrefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/pdf/"), ".pdf")
		path, err := mustID(t, name).PDFCachePath(cachePrefix)
		if !assert.NoError(t, err) ||
			!assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0755)) ||
			!assert.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 built"), 0644)) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func rowsByOperation(report *Report, op string) []Row {
	var rows []Row
	for _, row := range report.Rows {
		if row.Operation == op {
			rows = append(rows, row)
		}
	}
	return rows
}

func TestEngineRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tmp := t.TempDir()
	srv := httptest.NewServer(buildHandler(t, filepath.Join(tmp, "ps_cache")))
	defer srv.Close()

	settings := testEngineSettings(t, tmp, serverHost(t, srv))
	bucketDir := filepath.Join(tmp, "bucket")
	dest, err := storage.NewDestination(ctx, bucketDir)
	require.NoError(t, err)
	defer dest.Close()

	absPath := filepath.Join(settings.Paths.FTPPrefix, "arxiv", "papers", "2202", "2202.00235.abs")
	writeLocalFile(t, absPath, "abs contents\n")

	id := mustID(t, "2202.00235v1")
	todos := []publish.Todo{
		{SubID: 1, Type: publish.SubNew, IDV: "2202.00235v1", Action: publish.ActionUpload, Item: absPath, ID: id},
		{SubID: 1, Type: publish.SubNew, IDV: "2202.00235v1", Action: publish.ActionBuildUpload, Item: "2202.00235v1", ID: id},
		{SubID: 2, Type: publish.SubNew, IDV: "2202.00301v1", Action: "noop", Item: "ignored", ID: mustID(t, "2202.00301v1")},
	}

	engine := NewEngine(settings, dest)
	engine.keyFor = testKeyFor(tmp)
	defer engine.Close()

	report, err := engine.Run(ctx, todos)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Zero(t, report.Failed())
	assert.Equal(t, 2, report.Submissions)
	require.Len(t, report.Rows, 3)

	ensures := rowsByOperation(report, OpEnsurePDF)
	require.Len(t, ensures, 1)
	assert.Equal(t, StatusBuilt, ensures[0].Status)
	assert.Contains(t, ensures[0].Detail, "/pdf/2202.00235v1.pdf?nocdn=1")

	uploads := rowsByOperation(report, OpUpload)
	require.Len(t, uploads, 2)
	for _, row := range uploads {
		assert.Equal(t, string(storage.StatusUploaded), row.Status)
		assert.True(t, row.HasSize)
		assert.Contains(t, row.Detail, "file://"+bucketDir+"/")
	}

	copied, err := os.ReadFile(filepath.Join(bucketDir, "ftp", "arxiv", "papers", "2202", "2202.00235.abs"))
	require.NoError(t, err)
	assert.Equal(t, "abs contents\n", string(copied))
	assert.FileExists(t, filepath.Join(bucketDir, "ps_cache", "arxiv", "pdf", "2202", "2202.00235v1.pdf"))

	// A second run finds the PDF cached and identical objects in the
	// bucket, so nothing is copied again.
	second := NewEngine(settings, dest)
	second.keyFor = testKeyFor(tmp)
	defer second.Close()

	report, err = second.Run(ctx, todos)
	require.NoError(t, err)
	assert.Zero(t, report.Failed())

	ensures = rowsByOperation(report, OpEnsurePDF)
	require.Len(t, ensures, 1)
	assert.Equal(t, StatusAlreadyExists, ensures[0].Status)

	for _, row := range rowsByOperation(report, OpUpload) {
		assert.Equal(t, string(storage.StatusAlreadyOnGS), row.Status)
		assert.Zero(t, row.Size)
	}
}

func TestEngineRunFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tmp := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	settings := testEngineSettings(t, tmp, serverHost(t, srv))
	dest, err := storage.NewDestination(ctx, filepath.Join(tmp, "bucket"))
	require.NoError(t, err)
	defer dest.Close()

	todos := []publish.Todo{
		// The web node errors, so the PDF is never built.
		{SubID: 1, Type: publish.SubNew, IDV: "2202.00235v1", Action: publish.ActionBuildUpload, Item: "2202.00235v1", ID: mustID(t, "2202.00235v1")},
		// The source file does not exist.
		{SubID: 2, Type: publish.SubNew, IDV: "2202.00301v1", Action: publish.ActionUpload, Item: filepath.Join(tmp, "ftp", "no_such.abs"), ID: mustID(t, "2202.00301v1")},
		// The path is outside the synced trees and has no key.
		{SubID: 3, Type: publish.SubCross, IDV: "2202.00333", Action: publish.ActionUpload, Item: "/elsewhere/2202.00333.abs", ID: mustID(t, "2202.00333")},
	}

	engine := NewEngine(settings, dest)
	engine.keyFor = testKeyFor(tmp)
	defer engine.Close()

	report, err := engine.Run(ctx, todos)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, 3, report.Failed())
	assert.Len(t, report.Rows, 3)
	assert.Zero(t, report.UploadedBytes())

	ensures := rowsByOperation(report, OpEnsurePDF)
	require.Len(t, ensures, 1)
	assert.Equal(t, StatusFailed, ensures[0].Status)
	assert.Contains(t, ensures[0].Detail, "GET status 503")

	uploads := rowsByOperation(report, OpUpload)
	require.Len(t, uploads, 2)
	for _, row := range uploads {
		assert.Equal(t, StatusFailed, row.Status)
	}
}

func TestEngineRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tmp := t.TempDir()
	settings := testEngineSettings(t, tmp, "localhost:1")
	dest, err := storage.NewDestination(context.Background(), filepath.Join(tmp, "bucket"))
	require.NoError(t, err)
	defer dest.Close()

	engine := NewEngine(settings, dest)
	engine.keyFor = testKeyFor(tmp)
	defer engine.Close()

	// A canceled context must not hang the run; whether setup errors or an
	// empty report comes back depends on how far the queues got.
	report, err := engine.Run(ctx, []publish.Todo{
		{SubID: 1, Type: publish.SubNew, IDV: "2202.00235v1", Action: publish.ActionBuildUpload, Item: "2202.00235v1", ID: mustID(t, "2202.00235v1")},
	})
	if err == nil {
		assert.NotNil(t, report)
	}
}

func TestEngineRunNoHosts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tmp := t.TempDir()
	settings := testEngineSettings(t, tmp, "localhost:1")
	settings.Hosts = nil

	dest, err := storage.NewDestination(ctx, filepath.Join(tmp, "bucket"))
	require.NoError(t, err)
	defer dest.Close()

	engine := NewEngine(settings, dest)
	defer engine.Close()

	_, err = engine.Run(ctx, nil)
	assert.Error(t, err)
}
