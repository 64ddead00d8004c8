// Package fetcher downloads the static files served by the provisioned site.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/erimkaur/siteprovision/internal/constants"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrFetchFailure is returned when a download failed in a way worth retrying,
	// either due to a network error or a server error.
	ErrFetchFailure = errors.New("fetch failed")
	// ErrNotFound is returned when the source does not have the requested file.
	ErrNotFound = errors.New("file not found at source")
	// ErrTooLarge is returned when a file exceeds the maximum accepted size.
	ErrTooLarge = errors.New("file too large")
)

// Source is a named file to download.
type Source struct {
	Name string
	URL  string
}

// Document is a downloaded file.
type Document struct {
	Name        string
	URL         string
	Content     []byte
	SHA256      string
	Size        int64
	ContentType string
}

// Fetcher downloads files over HTTP.
type Fetcher struct {
	client  *http.Client
	maxSize int64

	maxAttempts     int
	baseRetryPeriod time.Duration
	maxRetryPeriod  time.Duration

	log *slog.Logger
}

type options struct {
	timeout         time.Duration
	maxSize         int64
	maxAttempts     int
	baseRetryPeriod time.Duration
	maxRetryPeriod  time.Duration
	transport       http.RoundTripper
	log             *slog.Logger
}

// Options represents an optional function to override Fetcher default values.
type Options func(*options)

// WithTimeout sets the timeout of each HTTP request.
func WithTimeout(d time.Duration) Options {
	return func(o *options) {
		o.timeout = d
	}
}

// WithMaxAttempts sets the maximum number of attempts for exponential backoff retries.
func WithMaxAttempts(n int) Options {
	return func(o *options) {
		o.maxAttempts = n
	}
}

// WithLogger sets the logger used by the fetcher.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.log = l
	}
}

var defaultOptions = options{
	timeout:         constants.DefaultFetchTimeout,
	maxSize:         constants.MaxDocumentSize,
	maxAttempts:     constants.DefaultMaxAttempts,
	baseRetryPeriod: time.Second,
	maxRetryPeriod:  30 * time.Second,
}

// New returns a new Fetcher.
func New(args ...Options) Fetcher {
	opts := defaultOptions
	opts.log = slog.Default()
	for _, opt := range args {
		opt(&opts)
	}

	return Fetcher{
		client:          &http.Client{Timeout: opts.timeout, Transport: opts.transport},
		maxSize:         opts.maxSize,
		maxAttempts:     opts.maxAttempts,
		baseRetryPeriod: opts.baseRetryPeriod,
		maxRetryPeriod:  opts.maxRetryPeriod,
		log:             opts.log,
	}
}

// Fetch downloads src. Only a 200 response is accepted.
func (f Fetcher) Fetch(ctx context.Context, src Source) (Document, error) {
	f.log.Debug("Fetching file", "name", src.Name, "url", src.URL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return Document{}, fmt.Errorf("failed to create request for %s: %v", src.Name, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Document{}, errors.Join(ErrFetchFailure, fmt.Errorf("failed to send HTTP request for %s: %v", src.Name, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return Document{}, fmt.Errorf("%w: %s (%s)", ErrNotFound, src.Name, src.URL)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return Document{}, errors.Join(ErrFetchFailure, fmt.Errorf("unexpected status code for %s: %d", src.Name, resp.StatusCode))
	default:
		return Document{}, fmt.Errorf("unexpected status code for %s: %d", src.Name, resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return Document{}, errors.Join(ErrFetchFailure, fmt.Errorf("failed to read body of %s: %v", src.Name, err))
	}
	if int64(len(content)) > f.maxSize {
		return Document{}, fmt.Errorf("%w: %s is larger than %d bytes", ErrTooLarge, src.Name, f.maxSize)
	}

	sum := sha256.Sum256(content)
	doc := Document{
		Name:        src.Name,
		URL:         src.URL,
		Content:     content,
		SHA256:      hex.EncodeToString(sum[:]),
		Size:        int64(len(content)),
		ContentType: resp.Header.Get("Content-Type"),
	}
	f.log.Debug("Fetched file", "name", doc.Name, "size", doc.Size, "sha256", doc.SHA256)

	return doc, nil
}

// BackoffFetch behaves like Fetch, but if there are any fetch failures, it will retry after a backoff period.
// The backoff period is calculated as an exponential backoff with full jitter.
// If the maximum number of attempts is reached, it will stop retrying and return the last error.
func (f Fetcher) BackoffFetch(ctx context.Context, src Source) (doc Document, err error) {
	attempts := 0
	for {
		doc, err = f.Fetch(ctx, src)
		if !errors.Is(err, ErrFetchFailure) {
			return doc, err
		}

		exp := min(f.baseRetryPeriod*(1<<attempts), f.maxRetryPeriod)
		wait := time.Duration(rand.Int63n(int64(max(exp, 1)))) // #nosec:G404 We don't need cryptographic randomness.

		attempts++
		if attempts >= f.maxAttempts {
			f.log.Warn("Maximum fetch attempts reached, giving up", "name", src.Name, "attempts", attempts)
			return doc, err
		}
		f.log.Warn("Failed to fetch file, retrying after backoff period", "name", src.Name, "seconds", wait.Seconds(), "error", err)

		select {
		case <-ctx.Done():
			return doc, errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// FetchAll concurrently downloads all sources and returns the documents in the same order.
// Any failure cancels the remaining downloads.
func (f Fetcher) FetchAll(ctx context.Context, sources []Source, retry bool) ([]Document, error) {
	docs := make([]Document, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			var err error
			if retry {
				docs[i], err = f.BackoffFetch(gctx, src)
			} else {
				docs[i], err = f.Fetch(gctx, src)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return docs, nil
}
