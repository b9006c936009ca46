package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "12345")
	}))
	defer srv.Close()

	d := NewDirect(time.Second)
	desc, err := d.Resolve(context.Background(), srv.URL+"/files/video.mkv")
	require.NoError(t, err)

	assert.Equal(t, "video.mkv", desc.Filename)
	assert.Equal(t, int64(12345), desc.Size)
	assert.Equal(t, KindDirect, desc.Kind)
	assert.Equal(t, srv.URL+"/files/video.mkv", desc.DirectURL)
}

func TestDirectResolveContentDispositionWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="real name.zip"`)
		w.Header().Set("Content-Length", "10")
	}))
	defer srv.Close()

	d := NewDirect(time.Second)
	desc, err := d.Resolve(context.Background(), srv.URL+"/dl?id=42")
	require.NoError(t, err)
	assert.Equal(t, "real name.zip", desc.Filename)
}

func TestDirectResolveUnknownSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No Content-Length on HEAD.
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDirect(time.Second)
	desc, err := d.Resolve(context.Background(), srv.URL+"/stream.bin")
	require.NoError(t, err)
	assert.Equal(t, SizeUnknown, desc.Size)
}

func TestDirectResolveHeadNotAllowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	d := NewDirect(time.Second)
	desc, err := d.Resolve(context.Background(), srv.URL+"/f.bin")
	require.NoError(t, err, "origins refusing HEAD must still resolve")
	assert.Equal(t, SizeUnknown, desc.Size)
	assert.Equal(t, "f.bin", desc.Filename)
}

func TestDirectResolveUnsupportedScheme(t *testing.T) {
	d := NewDirect(time.Second)

	for _, url := range []string{"ftp://example.com/f.bin", "magnet:?xt=urn:abc", "file:///etc/passwd"} {
		_, err := d.Resolve(context.Background(), url)
		assert.ErrorIs(t, err, ErrUnsupportedURL, url)
	}
}

func TestDirectResolveOriginFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewDirect(time.Second)
	_, err := d.Resolve(context.Background(), srv.URL+"/f.bin")

	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Contains(t, resErr.Error(), "403")
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain.bin", "plain.bin"},
		{"../../etc/passwd", "____etc_passwd"},
		{`a\b/c`, "a_b_c"},
		{"  spaced.txt  ", "spaced.txt"},
		{"", "download.bin"},
		{".", "download.bin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), "input %q", tt.in)
	}
}
