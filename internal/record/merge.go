package record

import (
	"bytes"
	"sort"
)

// Reply is one replica's answer for a key, tagged with the replica's node ID.
type Reply struct {
	Source string
	Record Record
}

// MergeResult is the outcome of reconciling replica replies.
type MergeResult struct {
	// Winner is the newest record, or Missing when no replica had the key.
	Winner Record
	// Source is the node ID that supplied Winner (empty when Missing).
	Source string
	// Stale lists, in sorted order, the replicas whose answer differs from Winner.
	Stale []string
}

// Merge picks the last write among the replies. Missing replies never win
// over a real record. Equal timestamps are broken by the lexicographically
// smallest source, then tombstone over value, then the smaller value, so
// the outcome does not depend on reply order.
func Merge(replies []Reply) MergeResult {
	winner := -1
	for i := range replies {
		if replies[i].Record.IsMissing() {
			continue
		}
		if winner < 0 || beats(replies[i], replies[winner]) {
			winner = i
		}
	}

	if winner < 0 {
		return MergeResult{Winner: NewMissing()}
	}

	res := MergeResult{
		Winner: replies[winner].Record,
		Source: replies[winner].Source,
	}
	for i := range replies {
		if !replies[i].Record.Equal(res.Winner) {
			res.Stale = append(res.Stale, replies[i].Source)
		}
	}
	sort.Strings(res.Stale)
	return res
}

// MergeRecords merges records that carry no source information.
func MergeRecords(records ...Record) Record {
	replies := make([]Reply, len(records))
	for i, r := range records {
		replies[i] = Reply{Record: r}
	}
	return Merge(replies).Winner
}

// beats reports whether a takes precedence over b. Both are non-missing.
func beats(a, b Reply) bool {
	if a.Record.timestamp != b.Record.timestamp {
		return a.Record.timestamp > b.Record.timestamp
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	if a.Record.kind != b.Record.kind {
		return a.Record.kind == Deleted
	}
	return bytes.Compare(a.Record.value, b.Record.value) < 0
}
