package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/evergreen-ci/utility"
	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/dependency"
	"github.com/mongodb/amboy/job"
	"github.com/mongodb/amboy/registry"
	"github.com/pkg/errors"

	"github.com/arXiv/arxiv-sync/publish"
	"github.com/arXiv/arxiv-sync/storage"
)

const (
	ensureJobName = "arxiv-ensure-pdf"
	uploadJobName = "arxiv-upload"
)

func init() {
	registry.AddJobType(ensureJobName, func() amboy.Job {
		return makeEnsureJob()
	})
	registry.AddJobType(uploadJobName, func() amboy.Job {
		return makeUploadJob()
	})
}

func msSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

type ensureJob struct {
	job.Base

	engine *Engine
	todo   publish.Todo
	host   string
}

func makeEnsureJob() *ensureJob {
	j := &ensureJob{
		Base: job.Base{
			JobType: amboy.JobType{
				Name:    ensureJobName,
				Version: 0,
			},
		},
	}

	j.SetDependency(dependency.NewAlways())

	return j
}

func newEnsureJob(engine *Engine, todo publish.Todo, host string) *ensureJob {
	j := makeEnsureJob()
	j.engine = engine
	j.todo = todo
	j.host = host
	j.SetID(fmt.Sprintf("%s.%d.%s", ensureJobName, todo.SubID, todo.IDV))
	return j
}

// Run ensures the PDF exists in ps_cache and, on success, hands the file to
// the upload queue.
func (j *ensureJob) Run(ctx context.Context) {
	defer j.MarkComplete()
	start := time.Now()

	path, status, err := j.engine.ensurer.EnsurePDF(ctx, j.host, j.todo.ID)
	if err != nil {
		j.engine.collector.Add(Row{
			IDV:       j.todo.IDV,
			Operation: OpEnsurePDF,
			Status:    StatusFailed,
			Millis:    msSince(start),
			Detail:    err.Error(),
		})
		j.AddError(errors.Wrapf(err, "ensuring PDF for '%s' on %s", j.todo.IDV, j.host))
		return
	}

	url, err := j.engine.ensurer.URL(j.host, j.todo.ID)
	j.AddError(err)
	j.engine.collector.Add(Row{
		IDV:       j.todo.IDV,
		Operation: OpEnsurePDF,
		Status:    status,
		Millis:    msSince(start),
		Detail:    url,
	})

	j.AddError(j.engine.enqueueUpload(ctx, j.todo, path))
}

type uploadJob struct {
	job.Base

	engine    *Engine
	todo      publish.Todo
	localPath string
}

func makeUploadJob() *uploadJob {
	j := &uploadJob{
		Base: job.Base{
			JobType: amboy.JobType{
				Name:    uploadJobName,
				Version: 0,
			},
		},
	}

	j.SetDependency(dependency.NewAlways())

	return j
}

func newUploadJob(engine *Engine, todo publish.Todo, localPath string) *uploadJob {
	j := makeUploadJob()
	j.engine = engine
	j.todo = todo
	j.localPath = localPath
	j.SetID(fmt.Sprintf("%s.%d.%s", uploadJobName, todo.SubID, localPath))
	return j
}

// Run copies the file to the destination unless an object of identical size
// is already there.
func (j *uploadJob) Run(ctx context.Context) {
	defer j.MarkComplete()
	start := time.Now()

	fail := func(err error) {
		j.engine.collector.Add(Row{
			IDV:       j.todo.IDV,
			Operation: OpUpload,
			Status:    StatusFailed,
			Millis:    msSince(start),
			Detail:    err.Error(),
		})
		j.AddError(errors.Wrapf(err, "uploading '%s' for '%s'", j.localPath, j.todo.IDV))
	}

	// Files outside the synced trees have no defined key; that is a todo
	// construction problem, not a transient failure, so it is not retried.
	key, err := j.engine.keyFor(j.localPath)
	if err != nil {
		fail(err)
		return
	}

	var res storage.Result
	if err := utility.Retry(ctx, func() (bool, error) {
		var err error
		res, err = storage.Put(ctx, j.engine.dest, j.localPath, key)
		if err != nil {
			return true, err
		}
		return false, nil
	}, utility.RetryOptions{
		MaxAttempts: j.engine.uploadAttempts,
		MinDelay:    retryMinDelay,
		MaxDelay:    retryMaxDelay,
	}); err != nil {
		fail(err)
		return
	}

	j.engine.collector.Add(Row{
		IDV:       j.todo.IDV,
		Operation: OpUpload,
		Status:    string(res.Status),
		Millis:    msSince(start),
		Detail:    fmt.Sprintf("%s/%s", j.engine.dest, key),
		Size:      res.Bytes,
		HasSize:   true,
	})
}
