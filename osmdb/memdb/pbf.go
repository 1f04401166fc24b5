package memdb

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/cheggaaa/pb/v3/termutil"
	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/osmdb"
)

type LoadOptions struct {
	Procs int
	// Size of the input in bytes. A progress bar is drawn when set.
	Size int64
	Name string
}

// LoadPBF reads every node, way and relation of an osm pbf stream.
func LoadPBF(ctx context.Context, r io.Reader, opts LoadOptions) (*DB, error) {
	if opts.Procs <= 0 {
		opts.Procs = 1
	}
	db := New()

	scanner := osmpbf.New(ctx, r, opts.Procs)
	defer scanner.Close()

	err := scanWithProgress(scanner, opts.Size, opts.Name, func(object osm.Object) error {
		return db.addObject(object)
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// OpenPBF loads a .osm.pbf file, optionally zstd compressed.
func OpenPBF(ctx context.Context, name string, procs int) (*DB, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening pbf: %w", err)
	}
	defer file.Close()

	opts := LoadOptions{Procs: procs, Name: name}
	var r io.Reader = file
	if strings.HasSuffix(name, ".zst") {
		dec, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	} else if stat, err := file.Stat(); err == nil {
		opts.Size = stat.Size()
	}

	return LoadPBF(ctx, r, opts)
}

func (db *DB) addObject(object osm.Object) error {
	switch o := object.(type) {
	case *osm.Node:
		db.AddNode(osmdb.NodeRow{
			ID:   o.ID,
			Tags: geomodel.TagsFromOSM(o.Tags),
			Lat:  o.Lat,
			Lon:  o.Lon,
		})
	case *osm.Way:
		ids := make([]osm.NodeID, len(o.Nodes))
		for i, n := range o.Nodes {
			ids[i] = n.ID
		}
		db.AddWay(osmdb.WayRow{
			ID:    o.ID,
			Tags:  geomodel.TagsFromOSM(o.Tags),
			Nodes: ids,
		})
	case *osm.Relation:
		members := make([]osmdb.MemberRow, len(o.Members))
		for i, m := range o.Members {
			kind, ok := geomodel.KindFromOSMType(m.Type)
			if !ok {
				return fmt.Errorf("relation %d member %d: %w: %s", o.ID, i, osmdb.ErrUnknownMemberType, m.Type)
			}
			members[i] = osmdb.MemberRow{
				MemberID:   m.Ref,
				MemberType: kind,
				Role:       m.Role,
				Sequence:   i,
			}
		}
		db.AddRelation(osmdb.RelationRow{
			ID:   o.ID,
			Tags: geomodel.TagsFromOSM(o.Tags),
		}, members)
	}
	return nil
}

func scanWithProgress(scanner *osmpbf.Scanner, size int64, name string, it func(osm.Object) error) error {
	if size <= 0 {
		for scanner.Scan() {
			if err := it(scanner.Object()); err != nil {
				return err
			}
		}
		return scanner.Err()
	}

	bar := pb.Start64(size)
	bar.Set("prefix", name)
	bar.Set(pb.Bytes, true)
	bar.SetRefreshRate(time.Second * 5)
	if w, err := termutil.TerminalWidth(); w == 0 || err != nil {
		bar.SetTemplateString(`{{with string . "prefix"}}{{.}} {{end}}{{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}{{with string . "suffix"}} {{.}}{{end}}` + "\n")
	}
	defer bar.Finish()

	for scanner.Scan() {
		bar.SetCurrent(scanner.FullyScannedBytes())
		if err := it(scanner.Object()); err != nil {
			return err
		}
	}
	return scanner.Err()
}
