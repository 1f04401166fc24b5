// Package failstore keeps the failed id registry in Redis so it survives
// restarts and is shared between processes.
package failstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/idset"
)

const DefaultPrefix = "osmgeo"

// Redis stores failed ids in one set per kind, named <prefix>:failed:<kind>.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// Open parses a redis:// url and checks the connection.
func Open(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return New(client, prefix), nil
}

func New(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(kind geomodel.Kind) string {
	return r.prefix + ":failed:" + kind.String()
}

func (r *Redis) Add(ctx context.Context, id int64, kind geomodel.Kind) error {
	return r.client.SAdd(ctx, r.key(kind), id).Err()
}

// Load adds every stored id to b and returns how many were new to it.
func (r *Redis) Load(ctx context.Context, b *idset.Bookkeeping) (int, error) {
	added := 0
	for _, kind := range geomodel.Kinds {
		members, err := r.client.SMembers(ctx, r.key(kind)).Result()
		if err != nil {
			return added, fmt.Errorf("loading failed %s ids: %w", kind, err)
		}
		ids := make([]int64, 0, len(members))
		for _, m := range members {
			id, err := strconv.ParseInt(m, 10, 64)
			if err != nil {
				return added, fmt.Errorf("failed %s id %q: %w", kind, m, err)
			}
			ids = append(ids, id)
		}
		added += b.AddMany(ids, kind)
	}
	return added, nil
}

// Forget drops ids of kind, so they are tried again after the next Load.
func (r *Redis) Forget(ctx context.Context, kind geomodel.Kind, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return r.client.SRem(ctx, r.key(kind), members...).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
