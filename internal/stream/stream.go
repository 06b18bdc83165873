// Package stream writes ordered range scans as a sequence of chunks, one
// chunk per (key, value) pair. Each chunk payload is key + '\n' + value.
//
// A Responder pulls one record from its Source, hands the payload to its
// Sink and only then pulls the next one, so a slow reader slows the scan
// down instead of buffering it in memory.
package stream

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
)

// Separator sits between key and value in a chunk payload.
const Separator = '\n'

// Source yields (key, value) pairs in ascending key order.
// *storage.RangeIterator satisfies it.
type Source interface {
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Release()
}

// Sink receives one payload per record. Each call must put the payload on
// the wire as a single chunk before returning.
type Sink interface {
	WriteChunk(payload []byte) error
}

// Payload builds the chunk payload for one record.
func Payload(key, value []byte) []byte {
	p := make([]byte, 0, len(key)+1+len(value))
	p = append(p, key...)
	p = append(p, Separator)
	return append(p, value...)
}

// Responder streams a Source into a Sink.
type Responder struct {
	src      Source
	sink     Sink
	onRecord func()
}

// Option configures a Responder.
type Option func(*Responder)

// WithRecordHook registers fn to run after every chunk written.
func WithRecordHook(fn func()) Option {
	return func(r *Responder) { r.onRecord = fn }
}

// NewResponder takes ownership of src; Run releases it.
func NewResponder(src Source, sink Sink, opts ...Option) *Responder {
	r := &Responder{src: src, sink: sink}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run writes every record of the source and returns how many were written.
// It stops early when ctx ends or the sink fails. The source is released on
// every return path.
func (r *Responder) Run(ctx context.Context) (int, error) {
	defer r.src.Release()

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if !r.src.Next() {
			return n, errors.Wrap(r.src.Err(), "range source")
		}
		if err := r.sink.WriteChunk(Payload(r.src.Key(), r.src.Value())); err != nil {
			return n, errors.Wrap(err, "write chunk")
		}
		n++
		if r.onRecord != nil {
			r.onRecord()
		}
	}
}

// HTTPSink writes each payload to an http.ResponseWriter and flushes it.
// The server frames every flushed write as one chunk and appends the
// terminal chunk when the handler returns.
type HTTPSink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewHTTPSink sends the response header and flushes it so the body is
// chunked even when no record follows.
func NewHTTPSink(w http.ResponseWriter) (*HTTPSink, error) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return nil, errors.Wrap(err, "flush header")
	}
	return &HTTPSink{w: w, rc: rc}, nil
}

// WriteChunk implements Sink. An empty payload would produce no chunk at
// all, so it panics.
func (s *HTTPSink) WriteChunk(payload []byte) error {
	if len(payload) == 0 {
		panic("stream: empty chunk payload")
	}
	if _, err := s.w.Write(payload); err != nil {
		return err
	}
	return s.rc.Flush()
}
