package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/royalcat/osmgeo/failstore"
	"github.com/royalcat/osmgeo/geosource"
	"github.com/royalcat/osmgeo/idset"
	"github.com/royalcat/osmgeo/internal/config"
	"github.com/royalcat/osmgeo/internal/stats"
	"github.com/royalcat/osmgeo/internal/telemetry"
	"github.com/royalcat/osmgeo/osmdb"
	"github.com/royalcat/osmgeo/osmdb/memdb"
	"github.com/royalcat/osmgeo/osmdb/pgdb"
	"github.com/royalcat/osmgeo/server"

	_ "net/http/pprof"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/urfave/cli/v3"
	_ "go.uber.org/automaxprocs"
)

const appName = "osmgeo"

func main() {
	configFlag := &cli.StringFlag{
		Name:      "config",
		Aliases:   []string{"c"},
		Usage:     "yaml config file",
		TakesFile: true,
	}
	pbfFlag := &cli.StringFlag{
		Name:      "pbf",
		Usage:     "serve an .osm.pbf extract from memory instead of postgres",
		TakesFile: true,
	}
	threadsFlag := &cli.IntFlag{
		Name:        "threads",
		Aliases:     []string{"t"},
		DefaultText: "max",
	}
	statsFlag := &cli.BoolFlag{
		Name:  "stats",
		Usage: "log peak memory and cpu usage of the pbf load",
	}

	app := &cli.App{
		Name:        appName,
		Description: "OpenStreetMap entity resolver over a pgsnapshot database",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "serve the entity api",
				Flags: []cli.Flag{
					configFlag,
					pbfFlag,
					threadsFlag,
					statsFlag,
					&cli.StringFlag{
						Name:  "listen",
						Usage: "overrides the configured listen address",
					},
					&cli.StringFlag{
						Name:        "pprof.listen",
						DefaultText: "",
					},
				},
				Action: serve,
			},
			{
				Name:      "get",
				Usage:     "resolve entities and print them",
				ArgsUsage: "nodes|ways|relations [ids...]",
				Flags: []cli.Flag{
					configFlag,
					pbfFlag,
					threadsFlag,
					statsFlag,
					&cli.StringFlag{
						Name:  "bbox",
						Usage: "minLon,minLat,maxLon,maxLat, used when no ids are given",
					},
					&cli.StringSliceFlag{
						Name:  "tag",
						Usage: "key, key=value or key=v1|v2, repeatable",
					},
					&cli.StringFlag{
						Name:  "format",
						Value: string(server.FormatJSON),
					},
					&cli.StringFlag{
						Name:      "output",
						Aliases:   []string{"o"},
						Usage:     "output file, zstd compressed when it ends with .zst",
						TakesFile: true,
					},
				},
				Action: get,
			},
			{
				Name:  "relation-bboxes",
				Usage: "recompute relations.bbox from member geometries",
				Flags: []cli.Flag{
					configFlag,
					&cli.IntFlag{
						Name:  "batch",
						Value: 10_000,
					},
				},
				Action: relationBBoxes,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func threads(ctx *cli.Context) int {
	threads := ctx.Int("threads")
	if threads == 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	return threads
}

func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return cfg, err
	}
	if listen := ctx.String("listen"); listen != "" {
		cfg.Listen = listen
	}
	return cfg, nil
}

func openBackend(ctx context.Context, cfg config.Config, pbf string, threads int, withStats bool) (osmdb.DB, error) {
	log := slog.Default()

	if pbf != "" {
		var collector *stats.Collector
		if withStats {
			var err error
			collector, err = stats.NewCollector(time.Second)
			if err != nil {
				return nil, err
			}
			collector.Start()
		}

		start := time.Now()
		db, err := memdb.OpenPBF(ctx, pbf, threads)
		if collector != nil {
			log.Info("Pbf load resource usage", "stats", collector.Stop())
		}
		if err != nil {
			return nil, err
		}
		nodes, ways, relations := db.Counts()
		log.Info("Loaded pbf",
			"file", pbf,
			"nodes", humanize.Comma(int64(nodes)),
			"ways", humanize.Comma(int64(ways)),
			"relations", humanize.Comma(int64(relations)),
			"took", time.Since(start).Round(time.Millisecond).String(),
		)
		return db, nil
	}

	db, err := pgdb.Open(ctx, cfg.PostgresConfig())
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return db, nil
}

// newSource wires the backend, the failed id mirror and the cache limits.
// The returned cleanup closes everything opened here.
func newSource(ctx context.Context, cfg config.Config, db osmdb.DB) (*geosource.Source, func(), error) {
	log := slog.Default()

	failed := idset.NewBookkeeping()
	opts := []geosource.Option{
		geosource.WithLogger(log),
		geosource.WithFailedRegistry(failed),
		geosource.WithCacheConfig(cfg.CacheConfig()),
		geosource.WithBatchSizes(cfg.BatchSizes()),
		geosource.WithParallelism(cfg.Parallelism),
	}

	var mirror *failstore.Redis
	if cfg.Redis.URL != "" {
		var err error
		mirror, err = failstore.Open(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
		if err != nil {
			return nil, nil, err
		}
		loaded, err := mirror.Load(ctx, failed)
		if err != nil {
			mirror.Close()
			return nil, nil, err
		}
		log.Info("Loaded failed ids", "count", humanize.Comma(int64(loaded)))
		opts = append(opts, geosource.WithFailedMirror(mirror))
	}

	src, err := geosource.New(db, opts...)
	if err != nil {
		if mirror != nil {
			mirror.Close()
		}
		return nil, nil, err
	}

	cleanup := func() {
		if err := src.Close(); err != nil {
			log.Error("Error closing source", "error", err)
		}
		if mirror != nil {
			if err := mirror.Close(); err != nil {
				log.Error("Error closing redis", "error", err)
			}
		}
	}
	return src, cleanup, nil
}

func serve(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(runCtx, appName, cfg.Telemetry.Endpoint, level)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Flush(shutdownCtx); err != nil {
			slog.Error("Error flushing telemetry", "error", err)
		}
		tel.Shutdown(shutdownCtx)
	}()

	log := slog.Default()

	if pprofListen := ctx.String("pprof.listen"); pprofListen != "" {
		go func() {
			log.Info("Starting pprof server")
			err := http.ListenAndServe(pprofListen, nil)
			if err != nil {
				log.Error("Error starting pprof server", "error", err)
			}
		}()
	}

	db, err := openBackend(runCtx, cfg, ctx.String("pbf"), threads(ctx), ctx.Bool("stats"))
	if err != nil {
		return err
	}
	src, cleanup, err := newSource(runCtx, cfg, db)
	if err != nil {
		db.Close()
		return err
	}
	defer cleanup()

	return server.Run(runCtx, cfg.Listen, src)
}
