package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynakv/internal/storage"
)

type fakeSource struct {
	keys, values [][]byte
	pos          int
	err          error
	released     int
}

func (f *fakeSource) Next() bool {
	if f.pos >= len(f.keys) {
		return false
	}
	f.pos++
	return true
}
func (f *fakeSource) Key() []byte   { return f.keys[f.pos-1] }
func (f *fakeSource) Value() []byte { return f.values[f.pos-1] }
func (f *fakeSource) Err() error    { return f.err }
func (f *fakeSource) Release()      { f.released++ }

// terminal is the zero-length chunk that ends a chunked body.
const terminal = "0\r\n\r\n"

// frame renders payload the way the chunked encoder puts it on the wire.
func frame(payload []byte) []byte {
	b := []byte(fmt.Sprintf("%x\r\n", len(payload)))
	b = append(b, payload...)
	return append(b, '\r', '\n')
}

// frameSink frames chunks itself, standing in for the HTTP server.
type frameSink struct{ w io.Writer }

func (f frameSink) WriteChunk(payload []byte) error {
	_, err := f.w.Write(frame(payload))
	return err
}

func (f frameSink) Close() error {
	_, err := io.WriteString(f.w, terminal)
	return err
}

type failingSink struct{ after int }

func (s *failingSink) WriteChunk([]byte) error {
	if s.after == 0 {
		return errors.New("broken pipe")
	}
	s.after--
	return nil
}

func seededStore(t *testing.T) *storage.Store {
	t.Helper()
	s := storage.NewStore(storage.NewMemory())
	require.NoError(t, s.Upsert([]byte("a"), []byte("A"), 1))
	require.NoError(t, s.Upsert([]byte("b"), []byte("B"), 1))
	require.NoError(t, s.Upsert([]byte("c"), []byte("C"), 1))
	require.NoError(t, s.Upsert([]byte("bb"), []byte("gone"), 1))
	require.NoError(t, s.Remove([]byte("bb"), 2))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPayload_EmptyValue(t *testing.T) {
	assert.Equal(t, []byte("k\n"), Payload([]byte("k"), nil))
}

func TestResponder_FramesRange(t *testing.T) {
	s := seededStore(t)
	it, err := s.Range([]byte("a"), []byte("c"))
	require.NoError(t, err)

	var buf bytes.Buffer
	fw := frameSink{w: &buf}
	hooks := 0
	n, err := NewResponder(it, fw, WithRecordHook(func() { hooks++ })).Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	assert.Equal(t, 2, n)
	assert.Equal(t, 2, hooks)
	assert.Equal(t, "3\r\na\nA\r\n3\r\nb\nB\r\n0\r\n\r\n", buf.String())
}

func TestResponder_ReleasesOnSinkError(t *testing.T) {
	src := &fakeSource{
		keys:   [][]byte{[]byte("a"), []byte("b")},
		values: [][]byte{[]byte("1"), []byte("2")},
	}
	n, err := NewResponder(src, &failingSink{after: 1}).Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, src.released)
}

func TestResponder_ReleasesOnCancel(t *testing.T) {
	src := &fakeSource{keys: [][]byte{[]byte("a")}, values: [][]byte{[]byte("1")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := NewResponder(src, frameSink{w: io.Discard}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.Equal(t, 1, src.released)
}

func TestResponder_SourceError(t *testing.T) {
	boom := errors.New("disk gone")
	src := &fakeSource{err: boom}
	_, err := NewResponder(src, frameSink{w: io.Discard}).Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, src.released)
}

func TestHTTPSink_EmptyPayloadPanics(t *testing.T) {
	sink, err := NewHTTPSink(httptest.NewRecorder())
	require.NoError(t, err)
	assert.Panics(t, func() { _ = sink.WriteChunk(nil) })
	assert.NotPanics(t, func() { _ = sink.WriteChunk(Payload(nil, nil)) })
}

func rangeHandler(s *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		it, err := s.Range([]byte(r.URL.Query().Get("start")), []byte(r.URL.Query().Get("end")))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		sink, err := NewHTTPSink(w)
		if err != nil {
			it.Release()
			return
		}
		_, _ = NewResponder(it, sink).Run(r.Context())
	}
}

// readRaw issues a bare HTTP/1.1 request and returns the undecoded body.
func readRaw(t *testing.T, addr, target string) (string, string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = io.WriteString(conn, "GET "+target+" HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)

	raw, err := io.ReadAll(bufio.NewReader(conn))
	require.NoError(t, err)
	head, body, ok := strings.Cut(string(raw), "\r\n\r\n")
	require.True(t, ok, "no header terminator in %q", raw)
	return head, body
}

func TestHTTPSink_ChunkPerRecord(t *testing.T) {
	srv := httptest.NewServer(rangeHandler(seededStore(t)))
	defer srv.Close()

	head, body := readRaw(t, srv.Listener.Addr().String(), "/?start=a&end=c")
	assert.Contains(t, head, "200 OK")
	assert.Contains(t, strings.ToLower(head), "transfer-encoding: chunked")
	assert.Equal(t, "3\r\na\nA\r\n3\r\nb\nB\r\n"+terminal, body)
}

func TestHTTPSink_EmptyRangeIsTerminalOnly(t *testing.T) {
	srv := httptest.NewServer(rangeHandler(seededStore(t)))
	defer srv.Close()

	head, body := readRaw(t, srv.Listener.Addr().String(), "/?start=x")
	assert.Contains(t, strings.ToLower(head), "transfer-encoding: chunked")
	assert.Equal(t, terminal, body)
}

func TestHTTPSink_OpenEndedRange(t *testing.T) {
	srv := httptest.NewServer(rangeHandler(seededStore(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/?start=b")
	require.NoError(t, err)
	defer resp.Body.Close()
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "b\nBc\nC", string(got))
}
