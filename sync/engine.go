// Package sync executes publish-log todo lists: it ensures versioned PDFs
// exist in ps_cache by requesting builds from the web nodes, then uploads
// every artifact to a storage destination, and reports what happened.
package sync

import (
	"context"
	"time"

	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/queue"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	arxivsync "github.com/arXiv/arxiv-sync"
	"github.com/arXiv/arxiv-sync/publish"
	"github.com/arXiv/arxiv-sync/storage"
)

// Engine runs a todo list against a destination. Build work is spread across
// one queue per web host, sized to that host's worker count so no host sees
// more concurrent build requests than configured; completed builds feed a
// shared upload queue.
type Engine struct {
	settings  *arxivsync.Settings
	dest      storage.Destination
	ensurer   *Ensurer
	collector *Collector
	uploads   amboy.Queue

	uploadAttempts int
	keyFor         func(string) (string, error)
}

// NewEngine builds an Engine writing to dest. Call Close when done with it.
func NewEngine(settings *arxivsync.Settings, dest storage.Destination) *Engine {
	return &Engine{
		settings:       settings,
		dest:           dest,
		ensurer:        NewEnsurer(settings),
		collector:      &Collector{},
		uploadAttempts: settings.Upload.Attempts,
		keyFor:         storage.KeyFor,
	}
}

// Close returns the engine's HTTP client to the pool.
func (e *Engine) Close() { e.ensurer.Close() }

func (e *Engine) enqueueUpload(ctx context.Context, todo publish.Todo, localPath string) error {
	if err := e.uploads.Put(ctx, newUploadJob(e, todo, localPath)); err != nil {
		e.collector.Add(Row{
			IDV:       todo.IDV,
			Operation: OpUpload,
			Status:    StatusFailed,
			Detail:    err.Error(),
		})
		return errors.Wrapf(err, "enqueueing upload of '%s'", localPath)
	}
	return nil
}

// Run executes todos and blocks until all queued work finishes or ctx is
// canceled. The report covers whatever work completed either way; enqueueing
// problems are returned as an error on top of their summary rows.
func (e *Engine) Run(ctx context.Context, todos []publish.Todo) (*Report, error) {
	start := time.Now()

	hosts := e.settings.Hosts
	if len(hosts) == 0 {
		return nil, errors.New("no ensure hosts configured")
	}
	if err := e.dest.Check(ctx); err != nil {
		return nil, errors.Wrapf(err, "checking destination '%s'", e.dest)
	}

	capacity := 2*len(todos) + 16
	e.uploads = queue.NewLocalLimitedSize(e.settings.Upload.Workers, capacity)
	if err := e.uploads.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "starting upload queue")
	}
	defer e.uploads.Runner().Close(ctx)

	hostQueues := make([]amboy.Queue, 0, len(hosts))
	for _, host := range hosts {
		q := queue.NewLocalLimitedSize(host.Workers, capacity)
		if err := q.Start(ctx); err != nil {
			return nil, errors.Wrapf(err, "starting ensure queue for '%s'", host.Name)
		}
		defer q.Runner().Close(ctx)
		hostQueues = append(hostQueues, q)
	}

	catcher := grip.NewBasicCatcher()
	next := 0
	for _, todo := range todos {
		switch todo.Action {
		case publish.ActionUpload:
			catcher.Add(e.enqueueUpload(ctx, todo, todo.Item))
		case publish.ActionBuildUpload:
			i := next % len(hostQueues)
			next++
			if err := hostQueues[i].Put(ctx, newEnsureJob(e, todo, hosts[i].Name)); err != nil {
				e.collector.Add(Row{
					IDV:       todo.IDV,
					Operation: OpEnsurePDF,
					Status:    StatusFailed,
					Detail:    err.Error(),
				})
				catcher.Wrapf(err, "enqueueing ensure of '%s'", todo.IDV)
			}
		default:
			grip.Error(message.Fields{
				"message": "skipping todo with invalid action",
				"action":  todo.Action,
				"id":      todo.IDV,
			})
		}
	}

	// The ensure queues must drain before the upload queue is waited on:
	// every in-flight ensure job can still add an upload.
	for i, q := range hostQueues {
		if !amboy.WaitInterval(ctx, q, queuePollInterval) {
			grip.Warning(message.Fields{
				"message": "canceled while ensuring PDFs",
				"host":    hosts[i].Name,
			})
			break
		}
	}
	if ctx.Err() == nil && !amboy.WaitInterval(ctx, e.uploads, queuePollInterval) {
		grip.Warning("canceled while uploading")
	}

	return e.collector.Report(publish.SubmissionCount(todos), time.Since(start)), catcher.Resolve()
}
