// Package geosource serves resolved nodes, ways and relations by id or by
// bounding box, backed by an osmdb.DB and a shared bounded entity cache.
package geosource

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/royalcat/osmgeo/entitystore"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/idset"
	"github.com/royalcat/osmgeo/osmdb"
)

// FailedMirror receives ids newly admitted to the failed registry.
type FailedMirror interface {
	Add(ctx context.Context, id int64, kind geomodel.Kind) error
}

// Source is safe for concurrent use. Clones share the entity store and the
// failed registry, each clone holds its own backend handle.
type Source struct {
	db     osmdb.DB
	store  *entitystore.Store
	failed *idset.Bookkeeping
	mirror FailedMirror

	log         *slog.Logger
	batches     BatchSizes
	parallelism int
	metrics     *metrics

	disposed atomic.Bool
}

func New(db osmdb.DB, opts ...Option) (*Source, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidArgument)
	}
	o := loadOptions(opts...)

	m, err := newMetrics()
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	store := o.store
	if store == nil {
		store = entitystore.New(o.cacheConfig)
	}
	failed := o.failed
	if failed == nil {
		failed = idset.NewBookkeeping()
	}

	return &Source{
		db:          db,
		store:       store,
		failed:      failed,
		mirror:      o.mirror,
		log:         o.logger,
		batches:     o.batches,
		parallelism: o.parallelism,
		metrics:     m,
	}, nil
}

// Store is the entity cache shared by this source and its clones.
func (s *Source) Store() *entitystore.Store { return s.store }

// Failed is the registry of ids known to be unresolvable.
func (s *Source) Failed() *idset.Bookkeeping { return s.failed }

// Clone returns a source sharing the cache and failed registry with a
// cloned backend handle.
func (s *Source) Clone(ctx context.Context) (*Source, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	db, err := s.db.Clone(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloning backend: %w", err)
	}

	return &Source{
		db:          db,
		store:       s.store,
		failed:      s.failed,
		mirror:      s.mirror,
		log:         s.log,
		batches:     s.batches,
		parallelism: s.parallelism,
		metrics:     s.metrics,
	}, nil
}

// Close releases the backend handle. The shared cache stays intact.
func (s *Source) Close() error {
	if !s.disposed.CompareAndSwap(false, true) {
		return ErrDisposed
	}
	return s.db.Close()
}

func (s *Source) check() error {
	if s.disposed.Load() {
		return ErrDisposed
	}
	return nil
}

func checkIDs[ID any](ids []ID) error {
	if ids == nil {
		return fmt.Errorf("%w: nil id list", ErrInvalidArgument)
	}
	return nil
}

func checkBox(box orb.Bound, filter osmdb.TagFilter) error {
	if err := osmdb.ValidateBox(box); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if err := filter.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return nil
}

// fail records an id the backend could not produce and logs it.
func (s *Source) fail(ctx context.Context, id int64, kind geomodel.Kind) {
	s.markFailed(ctx, id, kind)
	s.log.InfoContext(ctx, "failed to resolve",
		slog.String("kind", kind.String()),
		slog.Int64("id", id),
	)
}

func (s *Source) markFailed(ctx context.Context, id int64, kind geomodel.Kind) bool {
	if !s.failed.Add(id, kind) {
		return false
	}
	s.metrics.failed.Add(ctx, 1, kindAttr(kind))
	if s.mirror != nil {
		if err := s.mirror.Add(ctx, id, kind); err != nil {
			s.log.WarnContext(ctx, "failed to mirror failed id",
				slog.String("kind", kind.String()),
				slog.Int64("id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return true
}

// failedRegistry hands the request context to the resolution engine's
// failure reports.
type failedRegistry struct {
	ctx context.Context
	s   *Source
}

func (r failedRegistry) Add(id int64, kind geomodel.Kind) bool {
	return r.s.markFailed(r.ctx, id, kind)
}

// ordered maps ids to resolved entities keeping order and duplicates.
// Unresolved ids are skipped.
func ordered[ID comparable, E any](ids []ID, resolved map[ID]E) []E {
	out := make([]E, 0, len(ids))
	for _, id := range ids {
		if e, ok := resolved[id]; ok {
			out = append(out, e)
		}
	}
	return out
}
