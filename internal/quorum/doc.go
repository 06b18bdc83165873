// Package quorum provides coordination logic for quorum-based reads and writes.
// It parses and validates ack/from policies, fans out to replicas, and
// decides whether enough replicas acknowledged.
package quorum
