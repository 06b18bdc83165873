// Package storage provides the node-local ordered key-value engine and the
// record store layered on top of it. Engines keep raw bytes in bytewise key
// order; Store encodes timestamped records into them, keeping tombstones
// instead of deleting so replicas can merge on read.
package storage
