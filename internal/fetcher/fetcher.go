// Package fetcher downloads the raster inputs from their public mirrors.
//
// Mirror hosts serve large NetCDF payloads and throttle aggressively, so
// every HTTP request flows through a per-host adaptive rate limiter and
// the retry policy in internal/resilience. FTP mirrors get the same retry
// treatment around whole transfers.
package fetcher

import (
	"context"
	"io"
	"net/url"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a remote file.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	// The caller must close it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Dispatcher routes download URLs to the fetcher that speaks their scheme.
type Dispatcher struct {
	httpFetcher *HTTPFetcher
	ftpFetcher  *FTPFetcher
}

// NewDispatcher builds a dispatcher over the given fetchers.
func NewDispatcher(h *HTTPFetcher, f *FTPFetcher) *Dispatcher {
	return &Dispatcher{httpFetcher: h, ftpFetcher: f}
}

// NewDefaultDispatcher builds a dispatcher with default fetcher options.
func NewDefaultDispatcher() *Dispatcher {
	return NewDispatcher(NewHTTPFetcher(HTTPOptions{}), NewFTPFetcher(FTPOptions{}))
}

// ForURL returns the fetcher matching the URL's scheme.
func (d *Dispatcher) ForURL(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}
	switch u.Scheme {
	case "http", "https":
		return d.httpFetcher, nil
	case "ftp":
		return d.ftpFetcher, nil
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q in %s", u.Scheme, rawURL)
	}
}
