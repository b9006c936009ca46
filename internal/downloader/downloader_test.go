package downloader

import (
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/retry"
)

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestDownloadStreamsToDisk(t *testing.T) {
	content := make([]byte, 100*1024+13)
	_, err := rand.Read(content)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The body is too large for net/http to infer Content-Length,
		// so announce it explicitly; this test covers the known-size
		// path.
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.Write(content)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	d := New(Options{ChunkSize: 8 * 1024, Retry: fastRetry(1)})

	var lastDone, lastTotal int64
	written, err := d.Download(context.Background(), srv.URL, dest, func(done, total int64) {
		lastDone, lastTotal = done, total
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), written)
	assert.Equal(t, int64(len(content)), lastDone)
	assert.Equal(t, int64(len(content)), lastTotal)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestDownloadUnknownSizeReportsBytesOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flushing before the body is done forces chunked encoding
		// with no Content-Length.
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		w.Write(make([]byte, 4096))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	d := New(Options{ChunkSize: 1024, Retry: fastRetry(1)})

	var sawUnknown bool
	written, err := d.Download(context.Background(), srv.URL, dest, func(done, total int64) {
		if total < 0 {
			sawUnknown = true
		}
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4096), written)
	assert.True(t, sawUnknown)
}

func TestDownload404FailsImmediately(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	d := New(Options{Retry: fastRetry(5)})

	_, err := d.Download(context.Background(), srv.URL, dest, nil)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, int32(1), requests.Load(), "non-2xx must not be retried")
}

func TestDownloadRetriesTransientFailures(t *testing.T) {
	content := []byte("hello after three blips")

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 3 {
			// Drop the connection mid-flight.
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		w.Write(content)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	d := New(Options{Retry: fastRetry(4)})

	written, err := d.Download(context.Background(), srv.URL, dest, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), written)
	assert.Equal(t, int32(4), requests.Load())
}

func TestDownloadExhaustsRetryBudget(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	d := New(Options{Retry: fastRetry(3)})

	_, err := d.Download(context.Background(), srv.URL, dest, nil)

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, int32(3), requests.Load())
}

func TestDownloadTruncatedBodyIsTransient(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.Header().Set("Content-Length", "1000")
			w.WriteHeader(http.StatusOK)
			w.Write(make([]byte, 100))
			// Hijack to cut the stream short of Content-Length.
			if conn, _, err := w.(http.Hijacker).Hijack(); err == nil {
				conn.Close()
			}
			return
		}
		w.Write(make([]byte, 1000))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.bin")
	d := New(Options{Retry: fastRetry(3)})

	written, err := d.Download(context.Background(), srv.URL, dest, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), written)
}

func TestDownloadCancelAbortsWithinOneChunk(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 1024))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	dest := filepath.Join(t.TempDir(), "out.bin")
	d := New(Options{ChunkSize: 512, Retry: fastRetry(5)})

	done := make(chan error, 1)
	go func() {
		_, err := d.Download(ctx, srv.URL, dest, func(bytesDone, bytesTotal int64) {
			cancel()
		})
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("download did not abort after cancellation")
	}

	// The partial file is the caller's to delete; it must still exist
	// here so the cleanup path has something deterministic to remove.
	_, statErr := os.Stat(dest)
	assert.NoError(t, statErr)
}
