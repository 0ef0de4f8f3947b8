package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shepherdhq/console/pkg/event"
	"github.com/shepherdhq/console/pkg/utils"
)

// ErrNoWidgetsSelected rejects a submit with an empty selection before any
// job is created.
var ErrNoWidgetsSelected = errors.New("no widgets selected for export")

// ErrUnknownFormat rejects a submit with a format the queue cannot produce.
var ErrUnknownFormat = errors.New("unknown export format")

// ErrJobNotFound is returned for operations on a job ID the queue does not
// hold.
var ErrJobNotFound = errors.New("export job not found")

type jobRuntime struct {
	job    *Job
	cancel context.CancelFunc
}

// Queue manages export jobs. Jobs are independent: each runs in its own
// worker goroutine (bounded by a semaphore) under its own timeout, and a
// failure in one never touches another.
type Queue struct {
	mu   sync.Mutex
	jobs map[string]*jobRuntime

	source     Source
	outputDir  string
	jobTimeout time.Duration
	sem        chan struct{}
	emitter    *event.Emitter
	logger     *slog.Logger
}

// QueueOptions configures a Queue.
type QueueOptions struct {
	Source     Source
	OutputDir  string
	JobTimeout time.Duration // bound on a single job, default 30s
	MaxWorkers int
	Emitter    *event.Emitter
}

// NewQueue creates an export queue writing artifacts under opts.OutputDir.
func NewQueue(opts QueueOptions) *Queue {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Second
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 2
	}
	if opts.Emitter == nil {
		opts.Emitter = event.Global()
	}
	return &Queue{
		jobs:       make(map[string]*jobRuntime),
		source:     opts.Source,
		outputDir:  opts.OutputDir,
		jobTimeout: opts.JobTimeout,
		sem:        make(chan struct{}, opts.MaxWorkers),
		emitter:    opts.Emitter,
		logger:     utils.GetLogger(),
	}
}

// Submit validates the request, creates a job and dispatches it. Validation
// failures return an error and create no job; processing failures are
// reported on the job itself.
func (q *Queue) Submit(format Format, widgetIDs []string, opts Options) (Job, error) {
	if len(widgetIDs) == 0 {
		return Job{}, ErrNoWidgetsSelected
	}
	if !format.Valid() {
		return Job{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	now := time.Now()
	job := &Job{
		ID:        uuid.NewString(),
		Format:    format,
		Status:    StatusPending,
		StartTime: now,
		FileName:  fmt.Sprintf("shepherd-export-%s.%s", now.Format("20060102-150405"), format.Extension()),
		WidgetIDs: append([]string(nil), widgetIDs...),
		Options:   opts,
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt := &jobRuntime{job: job, cancel: cancel}

	q.mu.Lock()
	q.jobs[job.ID] = rt
	q.mu.Unlock()
	q.notify(*job)

	go q.run(ctx, rt)

	return *job, nil
}

// Get returns a copy of one job.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rt, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *rt.job, true
}

// List returns all jobs, newest first.
func (q *Queue) List() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, rt := range q.jobs {
		out = append(out, *rt.job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// Remove deletes a job and releases everything it holds: a processing job's
// worker is cancelled rather than left running pointlessly, and a completed
// job's artifact is deleted from disk. Skipping the release leaks a file per
// export in a long-lived session.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	rt, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}
	delete(q.jobs, id)
	filePath := rt.job.FilePath
	q.mu.Unlock()

	rt.cancel()
	if filePath != "" {
		if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			q.logger.Warn("Failed to delete export artifact", "jobID", id, "path", filePath, "error", err)
		}
	}
	return nil
}

func (q *Queue) run(ctx context.Context, rt *jobRuntime) {
	q.sem <- struct{}{}
	defer func() { <-q.sem }()

	// The job may have been removed while queued behind the semaphore.
	select {
	case <-ctx.Done():
		return
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, q.jobTimeout)
	defer cancel()

	q.setStatus(rt, StatusProcessing, 10)

	widgets, err := q.source(rt.job.WidgetIDs)
	if err != nil {
		q.fail(rt, fmt.Sprintf("collect widget data: %v", err))
		return
	}
	q.setStatus(rt, StatusProcessing, 30)

	data, err := q.transform(ctx, rt.job, widgets)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("export timed out after %s", q.jobTimeout)
		}
		q.fail(rt, err.Error())
		return
	}
	// The encoder may win the race against cancellation; a removed or
	// timed-out job must not leave an artifact behind.
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			q.fail(rt, fmt.Sprintf("export timed out after %s", q.jobTimeout))
		}
		return
	}
	q.setStatus(rt, StatusProcessing, 80)

	if err := os.MkdirAll(q.outputDir, 0o700); err != nil {
		q.fail(rt, fmt.Sprintf("create export dir: %v", err))
		return
	}
	path := filepath.Join(q.outputDir, rt.job.FileName)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		q.fail(rt, fmt.Sprintf("write artifact: %v", err))
		return
	}

	q.mu.Lock()
	now := time.Now()
	rt.job.FilePath = path
	rt.job.Status = StatusCompleted
	rt.job.Progress = 100
	rt.job.EndTime = &now
	snapshot := *rt.job
	q.mu.Unlock()
	q.notify(snapshot)

	q.logger.Info("Export completed", "jobID", snapshot.ID, "format", snapshot.Format, "path", path)
}

// transform runs the format-specific serialization in its own goroutine so a
// hung encoder cannot outlive the job's timeout or cancellation.
func (q *Queue) transform(ctx context.Context, job *Job, widgets []Widget) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		var (
			data []byte
			err  error
		)
		switch job.Format {
		case FormatJSON:
			data, err = encodeJSON(widgets, job.Options)
		case FormatCSV:
			data, err = encodeCSV(widgets)
		case FormatExcel:
			data, err = encodeExcel(widgets, job.Options)
		case FormatSVG:
			data, err = renderSVG(widgets, job.Options)
		case FormatPNG:
			data, err = renderPNG(widgets, job.Options)
		case FormatPDF:
			data, err = renderPDF(widgets, job.Options)
		default:
			err = fmt.Errorf("%w: %q", ErrUnknownFormat, job.Format)
		}
		ch <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.data, r.err
	}
}

func (q *Queue) setStatus(rt *jobRuntime, status Status, progress int) {
	q.mu.Lock()
	rt.job.Status = status
	if progress > rt.job.Progress {
		rt.job.Progress = progress
	}
	snapshot := *rt.job
	q.mu.Unlock()
	q.notify(snapshot)
}

func (q *Queue) fail(rt *jobRuntime, msg string) {
	q.mu.Lock()
	now := time.Now()
	rt.job.Status = StatusError
	rt.job.Error = msg
	rt.job.Progress = 0
	rt.job.EndTime = &now
	snapshot := *rt.job
	q.mu.Unlock()
	q.notify(snapshot)

	q.logger.Warn("Export failed", "jobID", snapshot.ID, "format", snapshot.Format, "error", msg)
}

func (q *Queue) notify(j Job) {
	q.emitter.Emit(event.ExportUpdated{JobID: j.ID, Status: string(j.Status)})
}
