package quorum

import (
	"context"
	"fmt"

	"dynakv/internal/record"
	"dynakv/internal/ring"
	"golang.org/x/sync/errgroup"
)

// WriteResult represents the result of a quorum write operation.
type WriteResult struct {
	Success      bool
	Acks         int
	Required     int
	Replicas     int
	Errors       []error
	ErrorMessage string
}

// ReadResult represents the result of a quorum read operation.
type ReadResult struct {
	Success      bool
	Acks         int
	Required     int
	Replicas     int
	Replies      []record.Reply
	Errors       []error
	ErrorMessage string
}

// ReplicaWriteFunc performs a write on a single replica. A nil error is an ack.
type ReplicaWriteFunc func(ctx context.Context, replica ring.Node) error

// ReplicaReadFunc reads the record a single replica holds for the key.
// An error drops the reply; Missing is a valid, acknowledged answer.
type ReplicaReadFunc func(ctx context.Context, replica ring.Node) (record.Record, error)

// DoWrite dispatches writeFn to every replica concurrently and waits for all
// of them. There is no early return once the quorum is reached: every replica
// gets its write attempt, and stragglers are bounded only by the timeout the
// replica call itself carries.
func DoWrite(ctx context.Context, replicas []ring.Node, requiredAcks int, writeFn ReplicaWriteFunc) WriteResult {
	if len(replicas) == 0 {
		return WriteResult{ErrorMessage: "no replicas provided"}
	}
	if requiredAcks > len(replicas) || requiredAcks < 1 {
		return WriteResult{
			Required:     requiredAcks,
			Replicas:     len(replicas),
			ErrorMessage: fmt.Sprintf("required acks=%d invalid for replica count=%d", requiredAcks, len(replicas)),
		}
	}

	errs := make([]error, len(replicas))
	// the group only joins; per-replica errors are kept in errs
	var g errgroup.Group
	for i, replica := range replicas {
		i, replica := i, replica
		g.Go(func() error {
			errs[i] = writeFn(ctx, replica)
			return nil
		})
	}
	_ = g.Wait()

	result := WriteResult{Required: requiredAcks, Replicas: len(replicas)}
	for i, err := range errs {
		if err == nil {
			result.Acks++
			continue
		}
		result.Errors = append(result.Errors, fmt.Errorf("replica %s: %w", replicas[i].ID, err))
	}

	if result.Acks >= requiredAcks {
		result.Success = true
		return result
	}
	result.ErrorMessage = notMet(result.Acks, requiredAcks, len(replicas), result.Errors)
	return result
}

// DoRead fetches the record from every replica concurrently and waits for
// all of them. Replies that produced a usable record count as acks.
func DoRead(ctx context.Context, replicas []ring.Node, requiredAcks int, readFn ReplicaReadFunc) ReadResult {
	if len(replicas) == 0 {
		return ReadResult{ErrorMessage: "no replicas provided"}
	}
	if requiredAcks > len(replicas) || requiredAcks < 1 {
		return ReadResult{
			Required:     requiredAcks,
			Replicas:     len(replicas),
			ErrorMessage: fmt.Sprintf("required acks=%d invalid for replica count=%d", requiredAcks, len(replicas)),
		}
	}

	type slot struct {
		rec record.Record
		err error
	}
	slots := make([]slot, len(replicas))
	// the group only joins; per-replica errors are kept in slots
	var g errgroup.Group
	for i, replica := range replicas {
		i, replica := i, replica
		g.Go(func() error {
			rec, err := readFn(ctx, replica)
			slots[i] = slot{rec: rec, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := ReadResult{Required: requiredAcks, Replicas: len(replicas)}
	for i, s := range slots {
		if s.err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("replica %s: %w", replicas[i].ID, s.err))
			continue
		}
		result.Acks++
		result.Replies = append(result.Replies, record.Reply{Source: replicas[i].ID, Record: s.rec})
	}

	if result.Acks >= requiredAcks {
		result.Success = true
		return result
	}
	result.ErrorMessage = notMet(result.Acks, requiredAcks, len(replicas), result.Errors)
	return result
}

func notMet(acks, required, replicas int, errs []error) string {
	msg := fmt.Sprintf("quorum not met: acks=%d required=%d replicas=%d", acks, required, replicas)
	if len(errs) > 0 {
		msg += fmt.Sprintf(" errors=%v", errs[:min(3, len(errs))])
	}
	return msg
}
