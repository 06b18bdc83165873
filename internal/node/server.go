package node

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dynakv/internal/logger"
	"dynakv/internal/metrics"
	"dynakv/internal/record"
	"dynakv/internal/stream"
	"dynakv/internal/workerpool"
)

// Server exposes a Coordinator over HTTP.
type Server struct {
	coord     *Coordinator
	pool      *workerpool.Pool
	rangePool *workerpool.Pool
	metrics   *metrics.Metrics
	gatherer prometheus.Gatherer
	log      *zap.Logger
}

// NewServer creates the HTTP front of a node. Entity requests are admitted
// through pool and range scans through rangePool, so long-lived streams
// never hold the slots point requests wait on. gatherer backs /metrics and
// may be nil to leave the endpoint out.
func NewServer(coord *Coordinator, pool, rangePool *workerpool.Pool, m *metrics.Metrics, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	return &Server{
		coord:     coord,
		pool:      pool,
		rangePool: rangePool,
		metrics:   m,
		gatherer:  gatherer,
		log:       log,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown path", http.StatusBadRequest)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	r.Get("/v0/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "OK")
	})
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.admit(s.pool))
		r.Get("/v0/entity", s.getEntity)
		r.Put("/v0/entity", s.putEntity)
		r.Delete("/v0/entity", s.deleteEntity)
	})
	r.With(s.admit(s.rangePool)).Get("/v0/entities", s.rangeEntities)
	return r
}

// OriginOf classifies a request by its proxy header.
func OriginOf(r *http.Request) Origin {
	if strings.EqualFold(r.Header.Get(ProxyHeader), proxyValue) {
		return ReplicaOriginated
	}
	return ClientOriginated
}

// admit runs client requests inside a slot of pool. Requests proxied by
// other coordinators skip the pool: they are single local operations, and
// making them wait behind coordinating requests could starve every node.
func (s *Server) admit(pool *workerpool.Pool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if OriginOf(r) == ReplicaOriginated {
				next.ServeHTTP(w, r)
				return
			}
			err := pool.Do(r.Context(), func() {
				s.metrics.InflightPooled.Inc()
				defer s.metrics.InflightPooled.Dec()
				next.ServeHTTP(w, r)
			})
			switch {
			case errors.Is(err, workerpool.ErrClosed):
				http.Error(w, "shutting down", http.StatusServiceUnavailable)
			case err != nil:
				// client went away while queued
				s.log.Debug("request dropped before admission", zap.Error(err))
			}
		})
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Stringer("origin", OriginOf(r)),
			logger.Status(ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// entityKey returns the id parameter, or false after answering 400.
func entityKey(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return nil, false
	}
	return []byte(id), true
}

// writeTimestamp returns the timestamp a proxied write carries, falling
// back to the local clock when the coordinator sent none.
func (s *Server) writeTimestamp(w http.ResponseWriter, r *http.Request) (int64, bool) {
	v := r.Header.Get(TimestampHeader)
	if v == "" {
		return s.coord.Now(), true
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ts < 0 {
		http.Error(w, "bad "+TimestampHeader, http.StatusBadRequest)
		return 0, false
	}
	return ts, true
}

// fanoutContext detaches replica calls from the client connection so a
// disconnect does not cancel writes already dispatched.
func fanoutContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	key, ok := entityKey(w, r)
	if !ok {
		return
	}

	if OriginOf(r) == ReplicaOriginated {
		rec, err := s.coord.LocalGet(key)
		if err != nil {
			s.log.Error("local get failed", logger.Key(key), zap.Error(err))
			http.Error(w, "storage error", http.StatusInternalServerError)
			return
		}
		writeReplicaRecord(w, rec)
		return
	}

	policy, err := s.coord.ResolvePolicy(r.URL.Query().Get("replicas"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec, result := s.coord.Get(fanoutContext(r), key, policy)
	if !result.Success {
		http.Error(w, result.ErrorMessage, http.StatusGatewayTimeout)
		return
	}

	switch {
	case rec.IsValue():
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(rec.Value())
	case rec.IsDeleted():
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write(record.Encode(rec))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// writeReplicaRecord answers a proxied read with the encoded record:
// 200 for a value, 404 with the tombstone for a delete, empty 404 when
// nothing is stored.
func writeReplicaRecord(w http.ResponseWriter, rec record.Record) {
	w.Header().Set("Content-Type", "application/octet-stream")
	switch {
	case rec.IsValue():
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(record.Encode(rec))
	case rec.IsDeleted():
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write(record.Encode(rec))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) putEntity(w http.ResponseWriter, r *http.Request) {
	key, ok := entityKey(w, r)
	if !ok {
		return
	}
	value, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if OriginOf(r) == ReplicaOriginated {
		ts, ok := s.writeTimestamp(w, r)
		if !ok {
			return
		}
		if err := s.coord.LocalPut(key, value, ts); err != nil {
			s.log.Error("local put failed", logger.Key(key), zap.Error(err))
			http.Error(w, "storage error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		return
	}

	policy, err := s.coord.ResolvePolicy(r.URL.Query().Get("replicas"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result := s.coord.Put(fanoutContext(r), key, value, policy)
	if !result.Success {
		http.Error(w, result.ErrorMessage, http.StatusGatewayTimeout)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) deleteEntity(w http.ResponseWriter, r *http.Request) {
	key, ok := entityKey(w, r)
	if !ok {
		return
	}

	if OriginOf(r) == ReplicaOriginated {
		ts, ok := s.writeTimestamp(w, r)
		if !ok {
			return
		}
		if err := s.coord.LocalDelete(key, ts); err != nil {
			s.log.Error("local delete failed", logger.Key(key), zap.Error(err))
			http.Error(w, "storage error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	policy, err := s.coord.ResolvePolicy(r.URL.Query().Get("replicas"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result := s.coord.Delete(fanoutContext(r), key, policy)
	if !result.Success {
		http.Error(w, result.ErrorMessage, http.StatusGatewayTimeout)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) rangeEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start := q.Get("start")
	if start == "" {
		http.Error(w, "missing start", http.StatusBadRequest)
		return
	}

	it, err := s.coord.LocalRange([]byte(start), []byte(q.Get("end")))
	if err != nil {
		s.log.Error("open range failed", zap.Error(err))
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	sink, err := stream.NewHTTPSink(w)
	if err != nil {
		it.Release()
		s.log.Warn("range stream not started", zap.Error(err))
		return
	}

	n, err := stream.NewResponder(it, sink, stream.WithRecordHook(s.metrics.StreamedRecords.Inc)).Run(r.Context())
	if skipped := it.Skipped(); skipped > 0 {
		s.metrics.SkippedRecords.Add(float64(skipped))
		s.log.Warn("range skipped undecodable entries",
			logger.Op(opRange),
			zap.String("start", start),
			zap.Int("skipped", skipped),
		)
	}
	if err != nil {
		s.log.Warn("range stream aborted", logger.Op(opRange), zap.Int("records", n), zap.Error(err))
		// a clean terminal chunk would pass a truncated range off as complete
		panic(http.ErrAbortHandler)
	}
}
