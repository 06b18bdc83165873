package node

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"dynakv/internal/clock"
	"dynakv/internal/logger"
	"dynakv/internal/metrics"
	"dynakv/internal/quorum"
	"dynakv/internal/record"
	"dynakv/internal/ring"
	"dynakv/internal/storage"
)

// Origin tells whether a request came from a client or from another node
// coordinating on a client's behalf.
type Origin int

const (
	// ClientOriginated requests are coordinated across the replica set.
	ClientOriginated Origin = iota
	// ReplicaOriginated requests touch the local store only.
	ReplicaOriginated
)

func (o Origin) String() string {
	if o == ReplicaOriginated {
		return "replica"
	}
	return "client"
}

// Operation names used in logs and metrics.
const (
	opGet    = "get"
	opPut    = "put"
	opDelete = "delete"
	opRange  = "range"
)

// Coordinator fans requests out to the replicas of a key and decides the
// outcome from their answers.
type Coordinator struct {
	self    ring.Node
	ring    *ring.Ring
	store   *storage.Store
	clients *ClientManager
	clock   clock.Clock
	policy  quorum.Policy
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewCoordinator wires a coordinator for self. The default policy is the
// cluster majority.
func NewCoordinator(self ring.Node, rng *ring.Ring, store *storage.Store, clients *ClientManager,
	clk clock.Clock, m *metrics.Metrics, log *zap.Logger) *Coordinator {
	return &Coordinator{
		self:    self,
		ring:    rng,
		store:   store,
		clients: clients,
		clock:   clk,
		policy:  quorum.Default(rng.Size()),
		metrics: m,
		log:     log,
	}
}

// ResolvePolicy parses the optional replicas parameter of a request.
func (c *Coordinator) ResolvePolicy(requested string) (quorum.Policy, error) {
	return quorum.Resolve(requested, c.policy, c.ring.Size())
}

// DefaultPolicy returns the policy used when a request names none.
func (c *Coordinator) DefaultPolicy() quorum.Policy {
	return c.policy
}

// Now returns the local clock reading used to stamp writes.
func (c *Coordinator) Now() int64 {
	return c.clock.NowMillis()
}

// Put writes value to policy.From replicas with one timestamp and reports
// whether policy.Ack of them acknowledged.
func (c *Coordinator) Put(ctx context.Context, key, value []byte, policy quorum.Policy) quorum.WriteResult {
	ts := c.clock.NowMillis()
	return c.write(ctx, opPut, key, policy, func(ctx context.Context, replica ring.Node) error {
		if replica.ID == c.self.ID {
			return c.LocalPut(key, value, ts)
		}
		return c.clients.Put(ctx, replica, key, value, ts)
	})
}

// Delete writes a tombstone to policy.From replicas.
func (c *Coordinator) Delete(ctx context.Context, key []byte, policy quorum.Policy) quorum.WriteResult {
	ts := c.clock.NowMillis()
	return c.write(ctx, opDelete, key, policy, func(ctx context.Context, replica ring.Node) error {
		if replica.ID == c.self.ID {
			return c.LocalDelete(key, ts)
		}
		return c.clients.Delete(ctx, replica, key, ts)
	})
}

func (c *Coordinator) write(ctx context.Context, op string, key []byte, policy quorum.Policy, fn quorum.ReplicaWriteFunc) quorum.WriteResult {
	started := time.Now()
	replicas := c.ring.ReplicasFor(key, policy.From)

	result := quorum.DoWrite(ctx, replicas, policy.Ack, func(ctx context.Context, replica ring.Node) error {
		err := fn(ctx, replica)
		c.observeReplica(op, key, replica, err)
		return err
	})

	c.metrics.ObserveQuorum(op, result.Success, started)
	if !result.Success {
		c.log.Warn("write quorum not met", logger.Op(op), logger.Key(key),
			logger.Quorum(policy.String()), zap.Int("acks", result.Acks))
	}
	return result
}

// Get reads key from policy.From replicas and merges the answers. The
// returned record is only meaningful when the result succeeded; it is
// Missing when every answering replica had nothing.
func (c *Coordinator) Get(ctx context.Context, key []byte, policy quorum.Policy) (record.Record, quorum.ReadResult) {
	started := time.Now()
	replicas := c.ring.ReplicasFor(key, policy.From)

	result := quorum.DoRead(ctx, replicas, policy.Ack, func(ctx context.Context, replica ring.Node) (record.Record, error) {
		var (
			rec record.Record
			err error
		)
		if replica.ID == c.self.ID {
			rec, err = c.LocalGet(key)
		} else {
			rec, err = c.clients.Get(ctx, replica, key)
		}
		c.observeReplica(opGet, key, replica, err)
		return rec, err
	})

	c.metrics.ObserveQuorum(opGet, result.Success, started)
	if !result.Success {
		c.log.Warn("read quorum not met", logger.Key(key),
			logger.Quorum(policy.String()), zap.Int("acks", result.Acks))
		return record.NewMissing(), result
	}

	merged := record.Merge(result.Replies)
	if len(merged.Stale) > 0 {
		c.log.Debug("replicas disagree", logger.Key(key),
			zap.String("winner", merged.Source), zap.Strings("stale", merged.Stale))
	}
	return merged.Winner, result
}

func (c *Coordinator) observeReplica(op string, key []byte, replica ring.Node, err error) {
	local := replica.ID == c.self.ID
	c.metrics.ObserveReplica(op, local, err)
	if err != nil {
		c.log.Warn("replica operation failed", logger.Op(op), logger.Key(key),
			logger.Replica(replica.ID), zap.Error(err))
	}
}

// LocalGet reads the record this node holds for key.
func (c *Coordinator) LocalGet(key []byte) (record.Record, error) {
	return c.store.Get(key)
}

// LocalPut stores value for key at ts on this node.
func (c *Coordinator) LocalPut(key, value []byte, ts int64) error {
	return errors.Wrap(c.store.Upsert(key, value, ts), "local put")
}

// LocalDelete stores a tombstone for key at ts on this node.
func (c *Coordinator) LocalDelete(key []byte, ts int64) error {
	return errors.Wrap(c.store.Remove(key, ts), "local delete")
}

// LocalRange opens an iterator over this node's live entries in
// [start, end). The caller owns the iterator.
func (c *Coordinator) LocalRange(start, end []byte) (*storage.RangeIterator, error) {
	return c.store.Range(start, end)
}
