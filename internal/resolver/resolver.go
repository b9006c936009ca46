// Package resolver turns a user-supplied URL into a fetchable descriptor:
// a direct URL plus filename and, when the origin advertises one, a size.
// Platform-specific link resolution plugs in behind the Resolver
// interface; the built-in implementation handles direct HTTP(S) links.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// Kind identifies the source platform a URL resolved to.
type Kind string

const (
	KindDirect Kind = "direct"
)

// SizeUnknown marks a descriptor whose origin did not advertise a size.
const SizeUnknown int64 = -1

// ErrUnsupportedURL is returned for URLs no resolver can handle.
var ErrUnsupportedURL = errors.New("resolver: unsupported URL")

// ResolutionError wraps a failure while probing a supported URL.
type ResolutionError struct {
	URL string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolver: resolving %s: %v", e.URL, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Descriptor is the normalized output of resolution.
type Descriptor struct {
	Filename  string
	Size      int64 // SizeUnknown if the origin did not say
	DirectURL string
	Kind      Kind
}

type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (*Descriptor, error)
}

// Direct resolves plain HTTP(S) links by probing the origin with a HEAD
// request.
type Direct struct {
	client    *http.Client
	userAgent string
}

func NewDirect(timeout time.Duration) *Direct {
	return &Direct{
		client:    &http.Client{Timeout: timeout},
		userAgent: "Mozilla/5.0 (compatible; relay/1.0)",
	}
}

func (d *Direct) Resolve(ctx context.Context, rawURL string) (*Descriptor, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
	}

	desc := &Descriptor{
		Filename:  filenameFromURL(u),
		Size:      SizeUnknown,
		DirectURL: rawURL,
		Kind:      KindDirect,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, &ResolutionError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &ResolutionError{URL: rawURL, Err: err}
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if resp.ContentLength >= 0 {
			desc.Size = resp.ContentLength
		}
		if name := filenameFromDisposition(resp.Header.Get("Content-Disposition")); name != "" {
			desc.Filename = SanitizeFilename(name)
		}
	case resp.StatusCode == http.StatusMethodNotAllowed:
		// Origin refuses HEAD. The downloader will learn the size from
		// the GET response instead.
	default:
		return nil, &ResolutionError{
			URL: rawURL,
			Err: fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	}

	return desc, nil
}

func filenameFromURL(u *url.URL) string {
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = "download.bin"
	}
	return SanitizeFilename(name)
}

func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// SanitizeFilename strips path separators and control characters so a
// remote name can never escape the transfer's work directory.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", "\x00", "")
	name = replacer.Replace(name)
	if name == "" || name == "." {
		return "download.bin"
	}
	return name
}
