package authclient

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"lessonvault/internal/offline"
)

// HTTPFetcher downloads raw assets from fetch URLs.
type HTTPFetcher struct {
	http *http.Client
}

var _ offline.Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher. Downloads can be long, so a nil client
// gets no overall timeout; cancel through the context instead.
func NewHTTPFetcher(httpClient *http.Client) *HTTPFetcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPFetcher{http: httpClient}
}

// Fetch streams url into w, reporting progress after every chunk.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string, w io.Writer, progress func(received, total int64)) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch returned %s", resp.Status)
	}

	total := resp.ContentLength
	pw := &progressWriter{w: w, total: total, progress: progress}
	n, err := io.Copy(pw, resp.Body)
	if err != nil {
		return n, fmt.Errorf("reading body: %w", err)
	}
	if total >= 0 && n != total {
		return n, fmt.Errorf("short body: got %d bytes, want %d", n, total)
	}
	return n, nil
}

type progressWriter struct {
	w        io.Writer
	received int64
	total    int64
	progress func(received, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.received += int64(n)
	if p.progress != nil {
		p.progress(p.received, p.total)
	}
	return n, err
}
