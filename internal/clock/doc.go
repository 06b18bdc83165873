// Package clock provides the wall-clock timestamp source used for
// last-write-wins conflict resolution. Timestamps are milliseconds since the
// Unix epoch; there is no causality tracking, so replicas with skewed clocks
// can resolve concurrent writes in surprising ways.
package clock
