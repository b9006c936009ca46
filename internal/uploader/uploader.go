// Package uploader pushes whole files or parts into the destination
// sink, absorbing the sink's rate limiting. Content delivery is the
// primary contract; status confirmation is best-effort.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/progress"
)

// Ref identifies a delivered message at the destination.
type Ref struct {
	Chat      string `json:"chat"`
	MessageID int64  `json:"message_id"`
}

// RateLimitedError is the sink's "retry after T" signal. It is resolved
// internally by sleeping and retrying; callers only see it once the
// retry budget is gone and the payload was never transmitted.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("uploader: rate limited, retry after %s", e.RetryAfter)
}

// SinkError is a terminal destination failure.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("uploader: sink error: %v", e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Sink is the delivery destination. Implementations must surface the
// destination's rate limiting as *RateLimitedError, distinct from
// generic failures.
type Sink interface {
	SendContent(ctx context.Context, chat, path, caption string, onProgress progress.Func) (Ref, error)
}

type Options struct {
	// MaxPayload is the destination's single-payload ceiling. Payloads
	// above it are rejected before any network traffic.
	MaxPayload int64

	// RateLimitRetries bounds how many rate-limit sleeps one call will
	// absorb.
	RateLimitRetries int

	// RateLimitCap caps each individual sleep regardless of what the
	// sink asked for.
	RateLimitCap time.Duration
}

// Result is the outcome of a delivery. Degraded means the content was
// transmitted but the sink's confirmation was swallowed by rate
// limiting, so Ref is zero.
type Result struct {
	Ref      Ref
	Degraded bool
}

type Uploader struct {
	sink Sink
	opts Options
}

func New(sink Sink, opts Options) *Uploader {
	if opts.RateLimitRetries <= 0 {
		opts.RateLimitRetries = 3
	}
	if opts.RateLimitCap <= 0 {
		opts.RateLimitCap = 60 * time.Second
	}
	return &Uploader{sink: sink, opts: opts}
}

// Upload delivers path to chat. Rate-limit signals trigger one
// sleep-then-retry per occurrence up to the configured bound; an
// exhausted budget after the bytes went out reports a degraded result
// rather than a failure.
func (u *Uploader) Upload(ctx context.Context, chat, path, caption string, onProgress progress.Func) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, &SinkError{Err: err}
	}
	// The splitter enforces this upstream; reject anyway.
	if u.opts.MaxPayload > 0 && info.Size() > u.opts.MaxPayload {
		return Result{}, &SinkError{
			Err: fmt.Errorf("payload %d bytes exceeds destination ceiling %d", info.Size(), u.opts.MaxPayload),
		}
	}

	for attempt := 0; ; attempt++ {
		ref, err := u.sink.SendContent(ctx, chat, path, caption, onProgress)
		if err == nil {
			return Result{Ref: ref}, nil
		}

		var rl *RateLimitedError
		if !errors.As(err, &rl) {
			if errors.Is(err, context.Canceled) {
				return Result{}, err
			}
			return Result{}, &SinkError{Err: err}
		}

		// A rate-limit answer means the payload itself went out; only
		// the confirmation path is throttled.
		if attempt >= u.opts.RateLimitRetries {
			logrus.WithFields(logrus.Fields{
				"chat": chat,
				"path": path,
			}).Warn("Rate-limit budget exhausted after transmission, reporting degraded delivery")
			return Result{Degraded: true}, nil
		}

		wait := rl.RetryAfter
		if wait > u.opts.RateLimitCap {
			wait = u.opts.RateLimitCap
		}
		logrus.WithFields(logrus.Fields{
			"chat":    chat,
			"wait":    wait,
			"attempt": attempt + 1,
		}).Info("Destination rate limited, sleeping before retry")

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(wait):
		}
	}
}
