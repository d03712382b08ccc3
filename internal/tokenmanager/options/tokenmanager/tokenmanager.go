// Package tokenmanager holds the functional options for constructing a
// tokenmanager.Manager, mirroring the options subpackage pattern used
// across this module's constructors.
package tokenmanager

import "time"

// Options configures a tokenmanager.Manager.
type Options struct {
	RefreshThreshold time.Duration
	Skew             time.Duration
}

// DefaultOptions matches spec.md §4.10's default refresh threshold.
var DefaultOptions = &Options{
	RefreshThreshold: 300 * time.Second,
	Skew:             60 * time.Second,
}

// Option mutates an Options value.
type Option func(o *Options)

// WithRefreshThreshold overrides the default 300s refresh threshold.
func WithRefreshThreshold(d time.Duration) Option {
	return func(o *Options) {
		o.RefreshThreshold = d
	}
}

// WithSkew overrides the default clock-skew tolerance used for the token's
// own expiry validation.
func WithSkew(d time.Duration) Option {
	return func(o *Options) {
		o.Skew = d
	}
}
