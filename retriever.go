// Package retriever is the programmatic surface of the resilient
// single-resource HTTP(S) downloader: given a target URL and a
// destination path, it produces a local file whose contents equal the
// remote entity, tolerating partial reads, connection drops, transient
// server errors, and inconsistent content encodings.
package retriever

import (
	"context"

	"github.com/webstalk-archive/retriever/internal/config"
	"github.com/webstalk-archive/retriever/internal/hostregistry"
	"github.com/webstalk-archive/retriever/internal/retrieval"
	"github.com/webstalk-archive/retriever/internal/transport"
)

// HttpStat is the per-retrieval state returned by Retrieve, re-exported
// from internal/retrieval so callers outside this module never need to
// import an internal package directly.
type HttpStat = retrieval.HttpStat

// Options is re-exported from internal/retrieval; see its doc comment
// for the full recognized option table and injected capabilities.
type Options = retrieval.Options

// Config is the retriever's configuration, re-exported so callers can
// build and tune a Pool without importing an internal package.
type Config = config.Config

// DefaultConfig returns a Config with the default settings: a 90-second
// request timeout, TLS verification on, and the stock transport retry
// policy.
func DefaultConfig() *Config {
	return config.DefaultConfig()
}

// LoadConfig reads configuration from defaults, the given file path (or
// the standard search locations when path is empty), and the
// environment, in ascending priority.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Registry is a process-wide, shared set of condemned host authorities.
// Share one Registry across every Retrieve call in a process so a host
// condemned by one retrieval fails fast for all others.
type Registry = hostregistry.Registry

// NewRegistry creates an empty condemned-host Registry.
func NewRegistry() *Registry {
	return hostregistry.New()
}

// NewPool builds a connection pool adapter from cfg, sharing registry's
// condemned-host state. Share one Pool across concurrent Retrieve calls
// to reuse its underlying keep-alive connections.
func NewPool(cfg *config.Config, registry *Registry) *transport.Pool {
	return transport.New(cfg, registry)
}

// Retrieve fetches url into destPath. See internal/retrieval.Retrieve
// for the full behavioral contract; opts.Pool and opts.Registry should
// normally be shared across calls via NewPool/NewRegistry rather than
// built fresh per call, so condemned hosts and pooled connections carry
// over between retrievals.
func Retrieve(ctx context.Context, url, destPath string, opts Options) (*HttpStat, error) {
	return retrieval.Retrieve(ctx, url, destPath, opts)
}
