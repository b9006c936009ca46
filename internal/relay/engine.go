// Package relay glues the transfer stages into one pipeline: resolve the
// URL, stream the download, split when oversized, upload each piece, and
// clean up on every terminal transition.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/downloader"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/history"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/progress"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/resolver"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/splitter"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/storage"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/task"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/uploader"
)

// Notifier posts user-visible status text. Implementations are
// best-effort; the engine logs and drops their errors.
type Notifier interface {
	Notify(ctx context.Context, owner int64, text string) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, owner int64, text string) error

func (f NotifierFunc) Notify(ctx context.Context, owner int64, text string) error {
	return f(ctx, owner, text)
}

type Options struct {
	ChatID    string
	SplitSize int64

	ProgressMaxUpdates int
	ProgressInterval   time.Duration
	ProgressDeltaPct   float64
}

type Engine struct {
	opts     Options
	registry *task.Registry
	resolver resolver.Resolver
	dl       *downloader.Downloader
	up       *uploader.Uploader
	dirs     *storage.Workdirs
	store    *history.Store // optional
	notifier Notifier       // optional
}

func New(opts Options, reg *task.Registry, res resolver.Resolver, dl *downloader.Downloader, up *uploader.Uploader, dirs *storage.Workdirs, store *history.Store, notifier Notifier) *Engine {
	if opts.ProgressMaxUpdates <= 0 {
		opts.ProgressMaxUpdates = 8
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = time.Minute
	}
	if opts.ProgressDeltaPct <= 0 {
		opts.ProgressDeltaPct = 20
	}
	return &Engine{
		opts:     opts,
		registry: reg,
		resolver: res,
		dl:       dl,
		up:       up,
		dirs:     dirs,
		store:    store,
		notifier: notifier,
	}
}

// Registry exposes the engine's task registry for status surfaces.
func (e *Engine) Registry() *task.Registry {
	return e.registry
}

// Submit registers a new transfer for owner and starts its pipeline.
// Returns task.ErrAlreadyActive if the owner has one in flight, or
// task.ErrBusy when the global ceiling is reached.
func (e *Engine) Submit(owner int64, url string) (*task.Transfer, error) {
	t := task.New(owner, url)
	if err := e.registry.Add(t); err != nil {
		return nil, err
	}

	// The run context outlives the submitting request.
	runCtx, cancel := context.WithCancel(context.Background())
	t.Bind(cancel)

	go e.run(runCtx, t)
	return t, nil
}

// Cancel requests cancellation of the owner's active transfer.
func (e *Engine) Cancel(owner int64) bool {
	return e.registry.Cancel(owner)
}

func (e *Engine) run(ctx context.Context, t *task.Transfer) {
	log := logrus.WithFields(logrus.Fields{
		"task_id": t.ID,
		"owner":   t.Owner,
		"url":     t.SourceURL,
	})

	defer e.finish(t, log)

	if err := t.To(task.StateResolving); err != nil {
		// Cancelled before the pipeline started.
		return
	}

	desc, err := e.resolver.Resolve(ctx, t.SourceURL)
	if err != nil {
		e.fail(ctx, t, err, log)
		return
	}
	t.SetResolved(desc.Filename, desc.DirectURL, desc.Size)
	log = log.WithField("filename", desc.Filename)

	dir, err := e.dirs.Create(t.ID)
	if err != nil {
		e.fail(ctx, t, &downloader.WriteError{Err: err}, log)
		return
	}

	if err := t.To(task.StateDownloading); err != nil {
		return
	}
	e.notify(ctx, t.Owner, fmt.Sprintf("Downloading %s...", desc.Filename))

	destPath := e.dirs.Path(t.ID, desc.Filename)
	written, err := e.dl.Download(ctx, desc.DirectURL, destPath, e.progressFunc(ctx, t, "Downloading"))
	if err != nil {
		e.fail(ctx, t, err, log)
		return
	}
	log.WithField("bytes", written).Info("Download finished")

	if written > e.opts.SplitSize {
		if err := t.To(task.StateSplitting); err != nil {
			return
		}
		err = e.uploadSplit(ctx, t, destPath, dir, written)
	} else {
		if err := t.To(task.StateUploading); err != nil {
			return
		}
		err = e.uploadWhole(ctx, t, destPath, written)
	}
	if err != nil {
		e.fail(ctx, t, err, log)
		return
	}

	if err := t.To(task.StateCompleted); err != nil {
		return
	}
	e.notify(ctx, t.Owner, fmt.Sprintf("Completed: %s (%s)", desc.Filename, humanize.IBytes(uint64(written))))
	log.Info("Transfer completed")

	e.record(t, written, log)
}

func (e *Engine) uploadWhole(ctx context.Context, t *task.Transfer, path string, size int64) error {
	caption := fmt.Sprintf("%s (%s)", t.Filename(), humanize.IBytes(uint64(size)))
	res, err := e.up.Upload(ctx, e.opts.ChatID, path, caption, e.progressFunc(ctx, t, "Uploading"))
	if err != nil {
		return err
	}
	if res.Degraded {
		t.MarkDegraded()
	}
	t.AddPart(task.PartStatus{
		Index:     0,
		Count:     1,
		Start:     0,
		End:       size,
		Path:      path,
		MessageID: res.Ref.MessageID,
	})
	return nil
}

func (e *Engine) uploadSplit(ctx context.Context, t *task.Transfer, srcPath, dir string, size int64) error {
	filename := t.Filename()
	// One throttle across all parts keeps the notification budget
	// per-transfer, not per-part.
	onProgress := e.progressFunc(ctx, t, "Uploading")

	return splitter.Split(ctx, srcPath, dir, e.opts.SplitSize, func(ctx context.Context, p splitter.Part) error {
		if err := t.To(task.StateUploading); err != nil {
			return err
		}

		// The sink counts each part from zero; shift by the part's
		// offset so the transfer-level counters and speed estimate see
		// one monotonic stream over the whole file.
		partProgress := func(done, _ int64) {
			onProgress(p.Start+done, size)
		}

		caption := fmt.Sprintf("%s (part %d/%d, %s)", filename, p.Index+1, p.Count, humanize.IBytes(uint64(p.Size())))
		res, err := e.up.Upload(ctx, e.opts.ChatID, p.Path, caption, partProgress)
		if err != nil {
			return err
		}
		if res.Degraded {
			t.MarkDegraded()
		}

		t.AddPart(task.PartStatus{
			Index:     p.Index,
			Count:     p.Count,
			Start:     p.Start,
			End:       p.End,
			Path:      p.Path,
			MessageID: res.Ref.MessageID,
		})
		return nil
	})
}

// progressFunc builds the per-stage progress callback: it updates the
// transfer's counters on every sample and pushes a notification only
// when the throttle allows it. Download and upload each cover their own
// 0-100% range, so each stage carries a fresh notification budget; the
// user sees at most MaxUpdates per direction of movement, not per part.
func (e *Engine) progressFunc(ctx context.Context, t *task.Transfer, stage string) progress.Func {
	throttle := progress.NewThrottle(e.opts.ProgressMaxUpdates, e.opts.ProgressInterval, e.opts.ProgressDeltaPct)
	speed := &progress.Speed{}

	return func(done, total int64) {
		now := time.Now()
		t.Progress(done, total)
		t.SetSpeed(speed.Observe(now, done))

		s := progress.Sample{Time: now, Bytes: done, Total: total}
		if !throttle.ShouldEmit(s) {
			return
		}
		e.notify(ctx, t.Owner, statusText(stage, t.Filename(), s, speed.Rate()))
	}
}

func statusText(stage, filename string, s progress.Sample, rate float64) string {
	if s.Total <= 0 {
		return fmt.Sprintf("%s %s: %s (%s/s)", stage, filename,
			humanize.IBytes(uint64(s.Bytes)), humanize.IBytes(uint64(rate)))
	}
	return fmt.Sprintf("%s %s: %.1f%% of %s (%s/s)", stage, filename,
		s.Percent(), humanize.IBytes(uint64(s.Total)), humanize.IBytes(uint64(rate)))
}

// fail records the terminal failure, mapping cancellation distinctly.
func (e *Engine) fail(ctx context.Context, t *task.Transfer, err error, log *logrus.Entry) {
	if errors.Is(err, context.Canceled) {
		t.MarkCancelled()
		log.Info("Transfer cancelled")
		e.notify(context.Background(), t.Owner, fmt.Sprintf("Cancelled: %s", t.SourceURL))
		return
	}

	kind := classify(err)
	t.Fail(kind, err)
	log.WithFields(logrus.Fields{
		"kind":  kind,
		"error": err,
	}).Error("Transfer failed")

	// Error kind plus a short diagnostic; never internal traces.
	e.notify(ctx, t.Owner, fmt.Sprintf("Failed (%s): %s", kind, diagnostic(err)))
}

// finish runs on every terminal transition: deregister and delete all
// temporary files, no exceptions.
func (e *Engine) finish(t *task.Transfer, log *logrus.Entry) {
	e.registry.Remove(t)
	if err := e.dirs.Remove(t.ID); err != nil {
		log.WithField("error", err).Warn("Failed to clean up work directory")
	}
}

// record appends to the transfer history, fire-and-forget.
func (e *Engine) record(t *task.Transfer, size int64, log *logrus.Entry) {
	if e.store == nil {
		return
	}
	filename := t.Filename()
	go func() {
		if err := e.store.Record(t.Owner, filename, size, t.SourceURL); err != nil {
			log.WithField("error", err).Warn("Failed to record transfer history")
		}
	}()
}

func (e *Engine) notify(ctx context.Context, owner int64, text string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, owner, text); err != nil {
		logrus.WithFields(logrus.Fields{
			"owner": owner,
			"error": err,
		}).Debug("Status notification dropped")
	}
}

func classify(err error) string {
	var (
		statusErr *downloader.HTTPStatusError
		netErr    *downloader.NetworkError
		writeErr  *downloader.WriteError
		resErr    *resolver.ResolutionError
		sinkErr   *uploader.SinkError
		rlErr     *uploader.RateLimitedError
	)
	switch {
	case errors.Is(err, resolver.ErrUnsupportedURL):
		return "unsupported_url"
	case errors.As(err, &resErr):
		return "resolution_error"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("http_status_%d", statusErr.Code)
	case errors.As(err, &writeErr):
		return "write_error"
	case errors.As(err, &netErr):
		return "network_error"
	case errors.As(err, &rlErr):
		return "rate_limited"
	case errors.As(err, &sinkErr):
		return "sink_error"
	default:
		return "internal_error"
	}
}

// diagnostic trims an error to its outermost message for user display.
func diagnostic(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	const maxLen = 200
	if len(msg) > maxLen {
		msg = msg[:maxLen] + "..."
	}
	return msg
}
