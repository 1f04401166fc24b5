package geosource

import (
	"context"
	"fmt"
	"sync"

	"github.com/royalcat/osmgeo/geomodel"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
)

// fetchBatches splits ids into chunks of size and concatenates the rows the
// backend returns for each chunk.
func fetchBatches[ID any, R any](
	ctx context.Context, s *Source, kind geomodel.Kind, ids []ID, size int,
	fetch func(context.Context, []ID) ([]R, error),
) ([]R, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	chunks := lo.Chunk(ids, size)
	s.metrics.backendQueries.Add(ctx, int64(len(chunks)), kindAttr(kind))

	if s.parallelism <= 1 || len(chunks) == 1 {
		var out []R
		for _, chunk := range chunks {
			rows, err := fetch(ctx, chunk)
			if err != nil {
				return nil, fmt.Errorf("querying %s batch: %w", kind, err)
			}
			out = append(out, rows...)
		}
		return out, nil
	}

	var (
		mu  sync.Mutex
		out []R
	)
	p := pool.New().WithMaxGoroutines(s.parallelism).WithContext(ctx).WithCancelOnError().WithFirstError()
	for _, chunk := range chunks {
		p.Go(func(ctx context.Context) error {
			rows, err := fetch(ctx, chunk)
			if err != nil {
				return fmt.Errorf("querying %s batch: %w", kind, err)
			}
			mu.Lock()
			out = append(out, rows...)
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
