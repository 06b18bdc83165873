package node

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"dynakv/internal/clock"
	"dynakv/internal/config"
	"dynakv/internal/logger"
	"dynakv/internal/metrics"
	"dynakv/internal/ring"
	"dynakv/internal/storage"
	"dynakv/internal/workerpool"
)

// Node represents a single node in the distributed system.
type Node struct {
	cfg      config.Config
	log      *zap.Logger
	self     ring.Node
	ring     *ring.Ring
	store    *storage.Store
	pool     *workerpool.Pool
	scans    *workerpool.Pool
	clients  *ClientManager
	coord    *Coordinator
	server   *Server
	httpSrv  *http.Server
	listener net.Listener
	serveErr chan error
	running  atomic.Bool
	stopped  atomic.Bool
}

type options struct {
	clock    clock.Clock
	logger   *zap.Logger
	registry *prometheus.Registry
	engine   storage.Engine
	listener net.Listener
}

// Option customizes a Node.
type Option func(*options)

// WithClock replaces the wall clock used to stamp writes.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry registers the node's metrics on reg instead of a fresh
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithEngine uses an already opened engine instead of the configured one.
func WithEngine(e storage.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithListener serves on l instead of listening on the configured address.
func WithListener(l net.Listener) Option {
	return func(o *options) { o.listener = l }
}

// New builds a node from cfg. The configuration is validated first.
func New(cfg config.Config, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{clock: clock.System{}, logger: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	rng, err := ring.New(cfg.BuildRingNodes())
	if err != nil {
		return nil, errors.Wrap(err, "build ring")
	}
	self, _ := rng.Lookup(cfg.NodeID)

	m, err := metrics.New(o.registry)
	if err != nil {
		return nil, errors.Wrap(err, "register metrics")
	}

	engine := o.engine
	if engine == nil {
		if engine, err = openEngine(cfg.Storage); err != nil {
			return nil, err
		}
	}

	log := o.logger.With(logger.NodeID(cfg.NodeID))
	n := &Node{
		cfg:      cfg,
		log:      log,
		self:     self,
		ring:     rng,
		store:    storage.NewStore(engine),
		pool:     workerpool.New(cfg.Workers),
		scans:    workerpool.New(cfg.RangeWorkers),
		clients:  NewClientManager(rng.Nodes(), self.ID, cfg.RemoteTimeout),
		listener: o.listener,
		serveErr: make(chan error, 1),
	}
	n.coord = NewCoordinator(self, rng, n.store, n.clients, o.clock, m, log)

	var gatherer prometheus.Gatherer
	if cfg.Metrics {
		gatherer = o.registry
	}
	n.server = NewServer(n.coord, n.pool, n.scans, m, gatherer, log)
	return n, nil
}

func openEngine(cfg config.StorageConfig) (storage.Engine, error) {
	switch cfg.Engine {
	case config.EngineLevelDB:
		return storage.OpenLevelDB(cfg.DataDir)
	default:
		return storage.NewMemory(), nil
	}
}

// ID returns the node ID.
func (n *Node) ID() string {
	return n.self.ID
}

// Addr returns the address the node listens on, once started.
func (n *Node) Addr() string {
	if n.listener == nil {
		return n.cfg.ListenAddr
	}
	return n.listener.Addr().String()
}

// Handler returns the node's HTTP handler.
func (n *Node) Handler() http.Handler {
	return n.server.Routes()
}

// Store returns the node's local store.
func (n *Node) Store() *storage.Store {
	return n.store
}

// Start binds the listener and serves in the background.
func (n *Node) Start() error {
	if n.stopped.Load() || !n.running.CompareAndSwap(false, true) {
		return errors.New("node already started or stopped")
	}
	if n.listener == nil {
		lis, err := net.Listen("tcp", n.cfg.ListenAddr)
		if err != nil {
			n.running.Store(false)
			return errors.Wrapf(err, "failed to listen on %s", n.cfg.ListenAddr)
		}
		n.listener = lis
	}

	n.httpSrv = &http.Server{
		Handler:           n.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(n.log.Named("http")),
	}

	n.log.Info("starting node",
		zap.String("listen", n.listener.Addr().String()),
		zap.String("advertise", n.self.Addr),
		zap.Int("cluster_size", n.ring.Size()),
		zap.Int("workers", n.pool.Size()),
		zap.Int("range_workers", n.scans.Size()),
		logger.Quorum(n.coord.DefaultPolicy().String()),
	)
	go func() {
		err := n.httpSrv.Serve(n.listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		n.serveErr <- err
	}()
	return nil
}

// Done delivers the serve loop's exit error, nil after a clean Stop.
func (n *Node) Done() <-chan error {
	return n.serveErr
}

// Stop shuts the HTTP server down gracefully, drains the worker pools and
// closes the store. ctx bounds how long in-flight requests may take.
func (n *Node) Stop(ctx context.Context) error {
	if n.stopped.Swap(true) {
		return nil
	}
	n.log.Info("stopping node")

	var firstErr error
	if n.running.Load() {
		if err := n.httpSrv.Shutdown(ctx); err != nil {
			firstErr = errors.Wrap(err, "shutdown http")
			_ = n.httpSrv.Close()
		}
	}
	for _, p := range []*workerpool.Pool{n.pool, n.scans} {
		if err := p.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	n.clients.Close()
	if err := n.store.Close(); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "close store")
	}
	return firstErr
}

// Compact asks the storage engine to reclaim space.
func (n *Node) Compact() error {
	return n.store.Compact()
}
