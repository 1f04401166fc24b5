package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/royalcat/osmgeo/osmdb/pgdb"
	"github.com/urfave/cli/v3"
)

const progressTemplate = `{{ string . "prefix" }} {{ counters . }} {{ bar . }} {{ percent . }} {{ rtime . "ETA %s" }}`

func relationBBoxes(ctx *cli.Context) error {
	log := slog.Default()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	db, err := pgdb.Open(ctx.Context, cfg.PostgresConfig())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()

	var bar *pb.ProgressBar
	progress := func(done, total int64) {
		if bar == nil {
			bar = pb.New64(total)
			bar.SetTemplateString(progressTemplate)
			bar.Set("prefix", "relations")
			bar.SetRefreshRate(time.Second)
			bar.Start()
		}
		bar.SetCurrent(done)
	}

	start := time.Now()
	updated, err := db.UpdateRelationBBoxes(ctx.Context, ctx.Int("batch"), progress)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("updating relation bboxes: %w", err)
	}

	log.Info("Relation bboxes updated",
		"relations", humanize.Comma(updated),
		"took", time.Since(start).Round(time.Second).String(),
	)
	return nil
}
