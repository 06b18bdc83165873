package logger

import (
	"strconv"

	"go.uber.org/zap"
)

// NodeID tags log lines with the node that wrote them.
func NodeID(v string) zap.Field {
	return zap.String("node_id", v)
}

// Replica names the replica a sub-operation targeted.
func Replica(v string) zap.Field {
	return zap.String("replica", v)
}

// Op names the operation (get, put, delete, range).
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Key records a storage key. Keys are arbitrary bytes, so they are quoted.
func Key(k []byte) zap.Field {
	return zap.String("key", strconv.Quote(string(k)))
}

// Quorum records an ack/from policy.
func Quorum(v string) zap.Field {
	return zap.String("quorum", v)
}

// Status records an HTTP status code.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}
