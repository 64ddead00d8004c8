package fetcher

import (
	"net/http"
	"time"
)

// WithRetryPeriods sets the initial and maximum backoff periods.
func WithRetryPeriods(base, maximum time.Duration) Options {
	return func(o *options) {
		o.baseRetryPeriod = base
		o.maxRetryPeriod = maximum
	}
}

// WithMaxSize sets the maximum accepted document size.
func WithMaxSize(n int64) Options {
	return func(o *options) {
		o.maxSize = n
	}
}

// WithTransport sets the HTTP transport.
func WithTransport(rt http.RoundTripper) Options {
	return func(o *options) {
		o.transport = rt
	}
}
