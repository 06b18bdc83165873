// Package record defines the timestamped record stored on every replica and
// exchanged between nodes, its binary encoding, and last-write-wins merging
// of divergent replica answers.
package record
