package server

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"log/slog"
	"net/http"
	"time"

	"github.com/fasthttp/router"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/royalcat/osmgeo/geomodel"
	"github.com/royalcat/osmgeo/geosource"
	"github.com/royalcat/osmgeo/osmdb"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const MaxBodySize = 32 * 1000 * 1000 // 32MB

var meter = otel.Meter("github.com/royalcat/osmgeo/server")

// Source is the part of geosource.Source the handlers use.
type Source interface {
	Nodes(ctx context.Context, ids []osm.NodeID) ([]*geomodel.Node, error)
	Ways(ctx context.Context, ids []osm.WayID) ([]*geomodel.Way, error)
	Relations(ctx context.Context, ids []osm.RelationID) ([]*geomodel.Relation, error)
	NodesInBox(ctx context.Context, box orb.Bound, filter osmdb.TagFilter) ([]*geomodel.Node, error)
	WaysInBox(ctx context.Context, box orb.Bound, filter osmdb.TagFilter) ([]*geomodel.Way, error)
	RelationsInBox(ctx context.Context, box orb.Bound, filter osmdb.TagFilter) ([]*geomodel.Relation, error)
}

func Run(ctx context.Context, address string, src Source) error {
	log := slog.Default()

	s, err := newServer(src, log)
	if err != nil {
		return err
	}

	server := &fasthttp.Server{
		ReadTimeout:        time.Second,
		MaxRequestBodySize: MaxBodySize,
		Handler:            s.router().Handler,
	}

	go func() {
		log.Info("Server listening", "address", address)
		if err := server.ListenAndServe(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stdlog.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	slog.Info("Server started")

	// wait cancel
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return server.ShutdownWithContext(shutdownCtx)
}

type server struct {
	src Source
	log *slog.Logger

	metricHttpCallCount      metric.Int64Counter
	metricEntitiesServed     metric.Int64Counter
	metricHttpErrorResponses metric.Int64Counter
}

func newServer(src Source, log *slog.Logger) (*server, error) {
	metricHttpCallCount, err := meter.Int64Counter("http_entities_call_total")
	if err != nil {
		return nil, err
	}
	metricEntitiesServed, err := meter.Int64Counter("entities_served_total")
	if err != nil {
		return nil, err
	}
	metricHttpErrorResponses, err := meter.Int64Counter("http_error_responses_total")
	if err != nil {
		return nil, err
	}
	return &server{
		src: src,
		log: log,

		metricHttpCallCount:      metricHttpCallCount,
		metricEntitiesServed:     metricEntitiesServed,
		metricHttpErrorResponses: metricHttpErrorResponses,
	}, nil
}

func (s *server) router() *router.Router {
	r := router.New()
	for _, kind := range geomodel.Kinds {
		path := "/" + kind.String() + "s"
		r.GET(path+"/{ids}", s.byIDHandler(kind))
		r.POST(path, s.byIDHandler(kind))
		r.GET(path, s.inBoxHandler(kind))
	}
	r.Handle(http.MethodGet, "/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))
	return r
}

// byIDHandler serves GET /{kind}s/{ids} with comma separated ids, and POST
// /{kind}s with a JSON array of ids in the body.
func (s *server) byIDHandler(kind geomodel.Kind) fasthttp.RequestHandler {
	attrs := metric.WithAttributes(attribute.String("kind", kind.String()), attribute.String("query", "id"))
	return func(ctx *fasthttp.RequestCtx) {
		s.metricHttpCallCount.Add(ctx, 1, attrs)

		format, err := ParseFormat(string(ctx.QueryArgs().Peek("format")))
		if err != nil {
			s.badRequest(ctx, err)
			return
		}

		raw := ctx.Request.Body()
		if ids, ok := ctx.UserValue("ids").(string); ok {
			raw = []byte(ids)
		}
		var ids []int64
		if err := unmarshalIDListFast(raw, &ids); err != nil {
			s.badRequest(ctx, fmt.Errorf("failed to parse ids: %w", err))
			return
		}
		if ids == nil {
			ids = []int64{}
		}

		var (
			body []byte
			n    int
		)
		switch kind {
		case geomodel.KindNode:
			res, qerr := s.src.Nodes(ctx, convertIDs[osm.NodeID](ids))
			err, n = qerr, len(res)
			if err == nil {
				body, err = Encode(format, res)
			}
		case geomodel.KindWay:
			res, qerr := s.src.Ways(ctx, convertIDs[osm.WayID](ids))
			err, n = qerr, len(res)
			if err == nil {
				body, err = Encode(format, res)
			}
		case geomodel.KindRelation:
			res, qerr := s.src.Relations(ctx, convertIDs[osm.RelationID](ids))
			err, n = qerr, len(res)
			if err == nil {
				body, err = Encode(format, res)
			}
		}
		s.respond(ctx, kind, format, body, n, err)
	}
}

// inBoxHandler serves GET /{kind}s?bbox=minLon,minLat,maxLon,maxLat with
// optional repeated tag=key[=v1|v2] filters.
func (s *server) inBoxHandler(kind geomodel.Kind) fasthttp.RequestHandler {
	attrs := metric.WithAttributes(attribute.String("kind", kind.String()), attribute.String("query", "bbox"))
	return func(ctx *fasthttp.RequestCtx) {
		s.metricHttpCallCount.Add(ctx, 1, attrs)

		args := ctx.QueryArgs()
		format, err := ParseFormat(string(args.Peek("format")))
		if err != nil {
			s.badRequest(ctx, err)
			return
		}
		box, err := osmdb.ParseBox(string(args.Peek("bbox")))
		if err != nil {
			s.badRequest(ctx, err)
			return
		}
		var exprs []string
		for _, v := range args.PeekMulti("tag") {
			exprs = append(exprs, string(v))
		}
		filter, err := osmdb.ParseTagFilter(exprs)
		if err != nil {
			s.badRequest(ctx, err)
			return
		}

		var (
			body []byte
			n    int
		)
		switch kind {
		case geomodel.KindNode:
			res, qerr := s.src.NodesInBox(ctx, box, filter)
			err, n = qerr, len(res)
			if err == nil {
				body, err = Encode(format, res)
			}
		case geomodel.KindWay:
			res, qerr := s.src.WaysInBox(ctx, box, filter)
			err, n = qerr, len(res)
			if err == nil {
				body, err = Encode(format, res)
			}
		case geomodel.KindRelation:
			res, qerr := s.src.RelationsInBox(ctx, box, filter)
			err, n = qerr, len(res)
			if err == nil {
				body, err = Encode(format, res)
			}
		}
		s.respond(ctx, kind, format, body, n, err)
	}
}

func (s *server) respond(ctx *fasthttp.RequestCtx, kind geomodel.Kind, format Format, body []byte, n int, err error) {
	if err != nil {
		status := statusOf(err)
		s.metricHttpErrorResponses.Add(ctx, 1, metric.WithAttributes(attribute.Int("status", status)))
		if status == http.StatusInternalServerError {
			s.log.ErrorContext(ctx, "request failed",
				slog.String("kind", kind.String()),
				slog.String("uri", string(ctx.RequestURI())),
				slog.String("error", err.Error()),
			)
		}
		ctx.Response.SetStatusCode(status)
		ctx.Response.SetBodyString(err.Error())
		return
	}

	s.metricEntitiesServed.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind.String())))
	ctx.Response.SetStatusCode(http.StatusOK)
	ctx.Response.Header.SetContentType(format.ContentType())
	ctx.Response.SetBody(body)
}

func (s *server) badRequest(ctx *fasthttp.RequestCtx, err error) {
	s.metricHttpErrorResponses.Add(ctx, 1, metric.WithAttributes(attribute.Int("status", http.StatusBadRequest)))
	ctx.Response.SetStatusCode(http.StatusBadRequest)
	ctx.Response.SetBodyString(err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, geosource.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, geosource.ErrDisposed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func convertIDs[ID ~int64](ids []int64) []ID {
	out := make([]ID, len(ids))
	for i, id := range ids {
		out[i] = ID(id)
	}
	return out
}
