// Package it runs whole clusters inside the test process. Every member is
// a real node serving HTTP on a loopback port; a member can also be a
// black hole that accepts connections and never answers.
package it

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dynakv/internal/clock"
	"dynakv/internal/config"
	"dynakv/internal/node"
	"dynakv/internal/storage"
)

// Options shape a cluster.
type Options struct {
	// IDs of the members, in any order.
	IDs []string
	// Unresponsive members accept connections but never reply.
	Unresponsive []string
	// RemoteTimeout bounds replica calls. Default: 300ms.
	RemoteTimeout time.Duration
	// Workers per node. Default: 8.
	Workers int
}

// Cluster represents a test cluster of nodes.
type Cluster struct {
	Clock  *clock.Manual
	Client *http.Client

	mu      sync.Mutex
	members map[string]*Member
	order   []string
}

// Member is one slot of the cluster.
type Member struct {
	ID   string
	URL  string
	node *node.Node
	hole *blackhole
}

// Node returns the running node, nil for a black hole.
func (m *Member) Node() *node.Node {
	return m.node
}

// NewCluster listens on one loopback port per member, then starts them.
func NewCluster(opts Options) (*Cluster, error) {
	if opts.RemoteTimeout == 0 {
		opts.RemoteTimeout = 300 * time.Millisecond
	}
	if opts.Workers == 0 {
		opts.Workers = 8
	}
	unresponsive := make(map[string]bool, len(opts.Unresponsive))
	for _, id := range opts.Unresponsive {
		unresponsive[id] = true
	}

	c := &Cluster{
		Clock:   clock.NewManual(1000),
		Client:  &http.Client{Timeout: 10 * time.Second},
		members: make(map[string]*Member, len(opts.IDs)),
	}

	listeners := make(map[string]net.Listener, len(opts.IDs))
	peers := make([]config.Peer, 0, len(opts.IDs))
	for _, id := range opts.IDs {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to listen for %s: %w", id, err)
		}
		listeners[id] = lis
		peers = append(peers, config.Peer{ID: id, Addr: "http://" + lis.Addr().String()})
	}

	for _, id := range opts.IDs {
		lis := listeners[id]
		m := &Member{ID: id, URL: "http://" + lis.Addr().String()}

		if unresponsive[id] {
			m.hole = newBlackhole(lis)
		} else {
			cfg := config.Default()
			cfg.NodeID = id
			cfg.ListenAddr = lis.Addr().String()
			cfg.Peers = peers
			cfg.RemoteTimeout = opts.RemoteTimeout
			cfg.Workers = opts.Workers

			n, err := node.New(cfg,
				node.WithListener(lis),
				node.WithClock(c.Clock),
				node.WithRegistry(prometheus.NewRegistry()),
				node.WithEngine(storage.NewMemory()),
			)
			if err == nil {
				err = n.Start()
			}
			if err != nil {
				c.Stop()
				closeAll(listeners)
				return nil, fmt.Errorf("failed to start node %s: %w", id, err)
			}
			m.node = n
		}
		c.members[id] = m
		c.order = append(c.order, id)
	}

	return c, nil
}

func closeAll(listeners map[string]net.Listener) {
	for _, l := range listeners {
		_ = l.Close()
	}
}

// Member returns a member by ID.
func (c *Cluster) Member(id string) *Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.members[id]
}

// KillNode stops a node. Its port refuses connections afterwards.
func (c *Cluster) KillNode(id string) error {
	m := c.Member(id)
	if m == nil {
		return fmt.Errorf("node %s not found", id)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if m.node != nil {
		return m.node.Stop(ctx)
	}
	m.hole.Close()
	return nil
}

// Stop stops all nodes in the cluster.
func (c *Cluster) Stop() {
	c.mu.Lock()
	ids := append([]string(nil), c.order...)
	c.mu.Unlock()

	for _, id := range ids {
		_ = c.KillNode(id)
	}
	c.Client.CloseIdleConnections()
}

// Response is a client-side view of one HTTP exchange.
type Response struct {
	Status int
	Body   []byte
}

// Do sends a client request to member id.
func (c *Cluster) Do(method, id, path string, query url.Values, body string) (Response, error) {
	m := c.Member(id)
	if m == nil {
		return Response{}, fmt.Errorf("node %s not found", id)
	}
	req, err := http.NewRequest(method, m.URL+path+"?"+query.Encode(), strings.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	return Response{Status: resp.StatusCode, Body: b}, nil
}

func entityQuery(key, replicas string) url.Values {
	q := url.Values{"id": {key}}
	if replicas != "" {
		q.Set("replicas", replicas)
	}
	return q
}

// Put stores value under key through member id.
func (c *Cluster) Put(id, key, value, replicas string) (Response, error) {
	return c.Do(http.MethodPut, id, "/v0/entity", entityQuery(key, replicas), value)
}

// Get reads key through member id.
func (c *Cluster) Get(id, key, replicas string) (Response, error) {
	return c.Do(http.MethodGet, id, "/v0/entity", entityQuery(key, replicas), "")
}

// Delete removes key through member id.
func (c *Cluster) Delete(id, key, replicas string) (Response, error) {
	return c.Do(http.MethodDelete, id, "/v0/entity", entityQuery(key, replicas), "")
}

// RawRange issues a range request over a bare connection and returns the
// body exactly as framed on the wire.
func (c *Cluster) RawRange(id, start, end string) (string, error) {
	m := c.Member(id)
	if m == nil {
		return "", fmt.Errorf("node %s not found", id)
	}
	q := url.Values{"start": {start}}
	if end != "" {
		q.Set("end", end)
	}

	conn, err := net.DialTimeout("tcp", strings.TrimPrefix(m.URL, "http://"), 2*time.Second)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return "", err
	}
	if _, err := fmt.Fprintf(conn, "GET /v0/entities?%s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", q.Encode(), m.ID); err != nil {
		return "", err
	}

	raw, err := io.ReadAll(bufio.NewReader(conn))
	if err != nil {
		return "", err
	}
	head, body, ok := strings.Cut(string(raw), "\r\n\r\n")
	if !ok {
		return "", fmt.Errorf("no header terminator in %q", raw)
	}
	if !strings.HasPrefix(head, "HTTP/1.1 200") {
		return "", fmt.Errorf("unexpected status line %q", strings.SplitN(head, "\r\n", 2)[0])
	}
	return body, nil
}

// blackhole accepts connections and holds them open without reading.
type blackhole struct {
	lis   net.Listener
	mu    sync.Mutex
	conns []net.Conn
	done  chan struct{}
}

func newBlackhole(lis net.Listener) *blackhole {
	b := &blackhole{lis: lis, done: make(chan struct{})}
	go b.accept()
	return b
}

func (b *blackhole) accept() {
	defer close(b.done)
	for {
		conn, err := b.lis.Accept()
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conns = append(b.conns, conn)
		b.mu.Unlock()
	}
}

func (b *blackhole) Close() {
	_ = b.lis.Close()
	<-b.done
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, conn := range b.conns {
		_ = conn.Close()
	}
	b.conns = nil
}
