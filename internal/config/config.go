package config

import (
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"dynakv/internal/logger"
	"dynakv/internal/ring"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Storage engine names.
const (
	EngineLevelDB = "leveldb"
	EngineMemory  = "memory"
)

// Peer represents a peer node in the cluster.
type Peer struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// StorageConfig selects and locates the local engine.
type StorageConfig struct {
	Engine  string `yaml:"engine"`
	DataDir string `yaml:"data_dir"`
}

// Config holds the node configuration.
type Config struct {
	NodeID     string `yaml:"node_id"`
	ListenAddr string `yaml:"listen_addr"`
	// AdvertiseAddr is the base URL peers use to reach this node.
	// Derived from ListenAddr when empty.
	AdvertiseAddr string        `yaml:"advertise_addr"`
	Peers         []Peer        `yaml:"peers"`
	Storage       StorageConfig `yaml:"storage"`
	// RemoteTimeout bounds every call to a peer.
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
	// Workers is the number of entity requests handled concurrently.
	Workers int `yaml:"workers"`
	// RangeWorkers is the number of range scans streamed concurrently.
	RangeWorkers   int           `yaml:"range_workers"`
	ShutdownPeriod time.Duration `yaml:"shutdown_period"`
	Metrics        bool          `yaml:"metrics"`
	Log            logger.Config `yaml:"log"`
}

// Default returns a single-node, in-memory configuration.
func Default() Config {
	return Config{
		NodeID:         "n1",
		ListenAddr:     ":8080",
		Storage:        StorageConfig{Engine: EngineMemory},
		RemoteTimeout:  3 * time.Second,
		Workers:        runtime.NumCPU(),
		RangeWorkers:   2,
		ShutdownPeriod: 5 * time.Second,
		Metrics:        true,
		Log:            logger.Config{Env: "dev", Level: "info"},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from DYNAKV_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("DYNAKV_NODE_ID"); v != "" {
		c.NodeID = v
	}
	if v := getenv("DYNAKV_LISTEN"); v != "" {
		c.ListenAddr = v
	}
	if v := getenv("DYNAKV_ADVERTISE"); v != "" {
		c.AdvertiseAddr = v
	}
	if v := getenv("DYNAKV_PEERS"); v != "" {
		peers, err := ParsePeers(v)
		if err != nil {
			return err
		}
		c.Peers = peers
	}
	if v := getenv("DYNAKV_ENGINE"); v != "" {
		c.Storage.Engine = v
	}
	if v := getenv("DYNAKV_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := getenv("DYNAKV_REMOTE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(ErrInvalidConfig, "DYNAKV_REMOTE_TIMEOUT: "+err.Error())
		}
		c.RemoteTimeout = d
	}
	if v := getenv("DYNAKV_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(ErrInvalidConfig, "DYNAKV_WORKERS: "+err.Error())
		}
		c.Workers = n
	}
	if v := getenv("DYNAKV_RANGE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(ErrInvalidConfig, "DYNAKV_RANGE_WORKERS: "+err.Error())
		}
		c.RangeWorkers = n
	}
	if v := getenv("DYNAKV_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("DYNAKV_LOG_ENV"); v != "" {
		c.Log.Env = v
	}
	if v := getenv("DYNAKV_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	return nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return errors.Wrap(ErrInvalidConfig, "node id cannot be empty")
	}
	if c.ListenAddr == "" {
		return errors.Wrap(ErrInvalidConfig, "listen address cannot be empty")
	}
	if c.RemoteTimeout <= 0 {
		return errors.Wrap(ErrInvalidConfig, "remote timeout must be positive")
	}
	if c.Workers < 1 {
		return errors.Wrap(ErrInvalidConfig, "workers must be at least 1")
	}
	if c.RangeWorkers < 1 {
		return errors.Wrap(ErrInvalidConfig, "range workers must be at least 1")
	}
	switch c.Storage.Engine {
	case EngineMemory:
	case EngineLevelDB:
		if c.Storage.DataDir == "" {
			return errors.Wrap(ErrInvalidConfig, "leveldb engine needs a data dir")
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown storage engine %q", c.Storage.Engine)
	}

	seen := map[string]string{c.NodeID: c.SelfAddr()}
	for _, p := range c.Peers {
		if p.ID == "" || p.Addr == "" {
			return errors.Wrapf(ErrInvalidConfig, "peer %q has empty id or address", p.ID+"="+p.Addr)
		}
		if addr, dup := seen[p.ID]; dup && (p.ID != c.NodeID || NormalizeAddr(p.Addr) != addr) {
			return errors.Wrapf(ErrInvalidConfig, "duplicate node id %q", p.ID)
		}
		seen[p.ID] = NormalizeAddr(p.Addr)
	}
	return nil
}

// SelfAddr returns the URL peers use to reach this node.
func (c *Config) SelfAddr() string {
	if c.AdvertiseAddr != "" {
		return NormalizeAddr(c.AdvertiseAddr)
	}
	host, port, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		return NormalizeAddr(c.ListenAddr)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// NormalizeAddr adds an http scheme when the address has none and drops a
// trailing slash.
func NormalizeAddr(addr string) string {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return addr
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, errors.Wrapf(ErrInvalidConfig, "invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, errors.Wrapf(ErrInvalidConfig, "peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:   id,
			Addr: NormalizeAddr(addr),
		})
	}

	return peers, nil
}

// BuildRingNodes converts config peers + self into ring.Node slice.
// Includes self node in the list.
func (c *Config) BuildRingNodes() []ring.Node {
	nodes := make([]ring.Node, 0, len(c.Peers)+1)

	nodes = append(nodes, ring.Node{
		ID:   c.NodeID,
		Addr: c.SelfAddr(),
	})

	for _, peer := range c.Peers {
		// Skip self if it appears in peers list
		if peer.ID != c.NodeID {
			nodes = append(nodes, ring.Node{
				ID:   peer.ID,
				Addr: NormalizeAddr(peer.Addr),
			})
		}
	}

	return nodes
}
