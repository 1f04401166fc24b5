package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/geosource"
	"github.com/royalcat/osmgeo/osmdb"
	"github.com/royalcat/osmgeo/server"
	"github.com/urfave/cli/v3"
)

func parseKind(s string) (geomodel.Kind, error) {
	for _, kind := range geomodel.Kinds {
		if s == kind.String() || s == kind.String()+"s" {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown kind %q, expected nodes, ways or relations", s)
}

func parseIDs(args []string) ([]int64, error) {
	var ids []int64
	for _, arg := range args {
		for _, s := range strings.Split(arg, ",") {
			if s == "" {
				continue
			}
			id, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid id %q: %w", s, err)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type query struct {
	kind   geomodel.Kind
	ids    []int64
	box    orb.Bound
	filter osmdb.TagFilter
}

func (q query) run(ctx context.Context, src *geosource.Source, format server.Format) ([]byte, error) {
	switch q.kind {
	case geomodel.KindNode:
		var res []*geomodel.Node
		var err error
		if q.ids != nil {
			res, err = src.Nodes(ctx, convertIDs[osm.NodeID](q.ids))
		} else {
			res, err = src.NodesInBox(ctx, q.box, q.filter)
		}
		if err != nil {
			return nil, err
		}
		return server.Encode(format, res)
	case geomodel.KindWay:
		var res []*geomodel.Way
		var err error
		if q.ids != nil {
			res, err = src.Ways(ctx, convertIDs[osm.WayID](q.ids))
		} else {
			res, err = src.WaysInBox(ctx, q.box, q.filter)
		}
		if err != nil {
			return nil, err
		}
		return server.Encode(format, res)
	case geomodel.KindRelation:
		var res []*geomodel.Relation
		var err error
		if q.ids != nil {
			res, err = src.Relations(ctx, convertIDs[osm.RelationID](q.ids))
		} else {
			res, err = src.RelationsInBox(ctx, q.box, q.filter)
		}
		if err != nil {
			return nil, err
		}
		return server.Encode(format, res)
	}
	return nil, fmt.Errorf("unknown kind %s", q.kind)
}

func convertIDs[ID ~int64](ids []int64) []ID {
	out := make([]ID, len(ids))
	for i, id := range ids {
		out[i] = ID(id)
	}
	return out
}

func parseQuery(args []string, bbox string, tags []string) (query, error) {
	if len(args) == 0 {
		return query{}, errors.New("missing kind argument")
	}
	kind, err := parseKind(args[0])
	if err != nil {
		return query{}, err
	}
	q := query{kind: kind}

	q.ids, err = parseIDs(args[1:])
	if err != nil {
		return q, err
	}
	if q.ids != nil {
		return q, nil
	}

	if bbox == "" {
		return q, errors.New("either ids or --bbox is required")
	}
	q.box, err = osmdb.ParseBox(bbox)
	if err != nil {
		return q, err
	}
	q.filter, err = osmdb.ParseTagFilter(tags)
	return q, err
}

// writeOutput writes data to name, or stdout when name is empty. Names
// ending with .zst are zstd compressed.
func writeOutput(name string, data []byte) (err error) {
	var w io.Writer = os.Stdout
	if name != "" {
		file, createErr := os.Create(name)
		if createErr != nil {
			return createErr
		}
		defer func() {
			if cerr := file.Close(); err == nil {
				err = cerr
			}
		}()
		w = file
	}

	buf := bufio.NewWriter(w)
	w = buf
	if strings.HasSuffix(name, ".zst") {
		enc, err := zstd.NewWriter(buf, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return err
		}
		if _, err := enc.Write(data); err != nil {
			enc.Close()
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
	} else if _, err := w.Write(data); err != nil {
		return err
	}
	return buf.Flush()
}

func get(ctx *cli.Context) error {
	q, err := parseQuery(ctx.Args().Slice(), ctx.String("bbox"), ctx.StringSlice("tag"))
	if err != nil {
		return err
	}
	format, err := server.ParseFormat(ctx.String("format"))
	if err != nil {
		return err
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	db, err := openBackend(ctx.Context, cfg, ctx.String("pbf"), threads(ctx), ctx.Bool("stats"))
	if err != nil {
		return err
	}
	src, cleanup, err := newSource(ctx.Context, cfg, db)
	if err != nil {
		db.Close()
		return err
	}
	defer cleanup()

	data, err := q.run(ctx.Context, src, format)
	if err != nil {
		return err
	}
	return writeOutput(ctx.String("output"), data)
}
