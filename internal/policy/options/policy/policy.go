// Package policy holds functional options whose fields mirror those of
// policy.SignaturePolicy, following the same options subpackage pattern as
// tokenmanager/options/tokenmanager. No package in this module imports it.
package policy

type Options struct {
	Level           string
	RequiredFor     []string
	Exempt          []string
	TrustedKeys     []string
	AllowSelfSigned bool
}

var DefaultOptions = &Options{
	Level: "none",
}

type Option func(o *Options)

func WithLevel(level string) Option {
	return func(o *Options) {
		o.Level = level
	}
}

func WithRequiredFor(patterns ...string) Option {
	return func(o *Options) {
		o.RequiredFor = patterns
	}
}

func WithExempt(patterns ...string) Option {
	return func(o *Options) {
		o.Exempt = patterns
	}
}

func WithTrustedKeys(keys ...string) Option {
	return func(o *Options) {
		o.TrustedKeys = keys
	}
}

func WithAllowSelfSigned(allow bool) Option {
	return func(o *Options) {
		o.AllowSelfSigned = allow
	}
}
