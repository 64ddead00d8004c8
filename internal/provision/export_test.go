package provision

import (
	"time"

	"github.com/erimkaur/siteprovision/internal/target"
)

// WithRunID sets the generator of run ids.
func WithRunID(id string) Options {
	return func(o *options) {
		o.newRunID = func() string { return id }
	}
}

// WithClock sets the time provider.
func WithClock(now func() time.Time) Options {
	return func(o *options) {
		o.now = now
	}
}

// ReadRecord is readRecord for tests.
func ReadRecord(t target.Target, p string) (Record, bool, error) {
	return readRecord(t, p)
}
