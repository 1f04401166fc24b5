package geosource

import (
	"log/slog"

	"github.com/royalcat/osmgeo/entitystore"
	"github.com/royalcat/osmgeo/idset"
)

// BatchSizes caps the ids sent to the backend in one query.
type BatchSizes struct {
	Nodes     int
	Ways      int
	Relations int
	Members   int
}

func DefaultBatchSizes() BatchSizes {
	return BatchSizes{
		Nodes:     1024,
		Ways:      1024,
		Relations: 1024,
		Members:   512,
	}
}

func (b BatchSizes) normalized() BatchSizes {
	def := DefaultBatchSizes()
	if b.Nodes <= 0 {
		b.Nodes = def.Nodes
	}
	if b.Ways <= 0 {
		b.Ways = def.Ways
	}
	if b.Relations <= 0 {
		b.Relations = def.Relations
	}
	if b.Members <= 0 {
		b.Members = def.Members
	}
	return b
}

type options struct {
	logger      *slog.Logger
	store       *entitystore.Store
	cacheConfig entitystore.Config
	failed      *idset.Bookkeeping
	mirror      FailedMirror
	batches     BatchSizes
	parallelism int
}

func loadOptions(opts ...Option) options {
	options := options{
		logger:      slog.Default(),
		cacheConfig: entitystore.DefaultConfig(),
		batches:     DefaultBatchSizes(),
		parallelism: 1,
	}
	for _, o := range opts {
		o.apply(&options)
	}
	options.batches = options.batches.normalized()
	if options.parallelism < 1 {
		options.parallelism = 1
	}
	return options
}

type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

func WithLogger(log *slog.Logger) Option {
	return optionFunc(func(o *options) {
		if log != nil {
			o.logger = log
		}
	})
}

// WithStore shares an entity store between sources.
func WithStore(store *entitystore.Store) Option {
	return optionFunc(func(o *options) {
		o.store = store
	})
}

// WithCacheConfig sizes the store created by New. Ignored with WithStore.
func WithCacheConfig(cfg entitystore.Config) Option {
	return optionFunc(func(o *options) {
		o.cacheConfig = cfg
	})
}

// WithFailedRegistry shares the known-failed id registry.
func WithFailedRegistry(failed *idset.Bookkeeping) Option {
	return optionFunc(func(o *options) {
		o.failed = failed
	})
}

// WithFailedMirror copies every newly failed id to m.
func WithFailedMirror(m FailedMirror) Option {
	return optionFunc(func(o *options) {
		o.mirror = m
	})
}

// Default: 1024 ids for nodes, ways and relations, 512 for members.
func WithBatchSizes(b BatchSizes) Option {
	return optionFunc(func(o *options) {
		o.batches = b
	})
}

type parallelism int

func (p parallelism) apply(o *options) {
	o.parallelism = int(p)
}

// WithParallelism runs up to n batches of one round concurrently.
// Default: 1
func WithParallelism(n int) Option {
	return parallelism(n)
}
