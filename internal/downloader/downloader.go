// Package downloader streams a remote file to local disk in fixed-size
// chunks. The whole file is never held in memory, cancellation is
// honored between chunks, and transient network failures are retried
// under the shared retry policy. Non-2xx responses fail immediately.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/progress"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/retry"
)

// HTTPStatusError reports a non-2xx response. It is never retried.
type HTTPStatusError struct {
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("downloader: unexpected HTTP status %d", e.Code)
}

// NetworkError wraps a transport-level failure. Retryable.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("downloader: network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// WriteError wraps a local disk failure. Never retried.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("downloader: write error: %v", e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

type Options struct {
	// ChunkSize is the per-read buffer size.
	ChunkSize int64

	// Timeout bounds connection setup and the wait for response headers.
	Timeout time.Duration

	Retry     retry.Policy
	UserAgent string
}

type Downloader struct {
	client *http.Client
	opts   Options
}

func New(opts Options) *Downloader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 256 * 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy()
	}

	transport := &http.Transport{
		ResponseHeaderTimeout: opts.Timeout,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true,
	}

	return &Downloader{
		client: &http.Client{Transport: transport},
		opts:   opts,
	}
}

// Download streams directURL into destPath and returns the bytes
// written. Each retry attempt restarts the file from scratch; the
// caller owns deleting destPath after a failure.
func (d *Downloader) Download(ctx context.Context, directURL, destPath string, onProgress progress.Func) (int64, error) {
	var written int64

	err := d.opts.Retry.Do(ctx, func() error {
		n, err := d.attempt(ctx, directURL, destPath, onProgress)
		written = n
		if err != nil {
			var ne *NetworkError
			if errors.As(err, &ne) {
				logrus.WithFields(logrus.Fields{
					"url":   directURL,
					"error": ne.Err,
				}).Warn("Transient download failure, will retry")
			}
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (d *Downloader) attempt(ctx context.Context, directURL, destPath string, onProgress progress.Func) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, retry.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, directURL, nil)
	if err != nil {
		return 0, retry.Permanent(&NetworkError{Err: err})
	}
	if d.opts.UserAgent != "" {
		req.Header.Set("User-Agent", d.opts.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, retry.Permanent(ctx.Err())
		}
		return 0, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, retry.Permanent(&HTTPStatusError{Code: resp.StatusCode})
	}

	// Negative while the server omits Content-Length; progress then
	// reports bytes-only until stream end.
	total := resp.ContentLength

	f, err := os.Create(destPath)
	if err != nil {
		return 0, retry.Permanent(&WriteError{Err: err})
	}
	defer f.Close()

	buf := make([]byte, d.opts.ChunkSize)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, retry.Permanent(err)
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return written, retry.Permanent(&WriteError{Err: werr})
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if errors.Is(rerr, context.Canceled) || errors.Is(rerr, context.DeadlineExceeded) {
				return written, retry.Permanent(ctx.Err())
			}
			return written, &NetworkError{Err: rerr}
		}
	}

	if total >= 0 && written != total {
		return written, &NetworkError{
			Err: fmt.Errorf("truncated body: got %d of %d bytes", written, total),
		}
	}

	if err := f.Sync(); err != nil {
		return written, retry.Permanent(&WriteError{Err: err})
	}
	return written, nil
}
