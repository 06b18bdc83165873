package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMerge_LatestWins(t *testing.T) {
	replies := []Reply{
		{Source: "n1", Record: NewValue([]byte("old"), 100)},
		{Source: "n2", Record: NewValue([]byte("new"), 200)},
		{Source: "n3", Record: NewMissing()},
	}

	res := Merge(replies)
	assert.True(t, res.Winner.IsValue())
	assert.Equal(t, []byte("new"), res.Winner.Value())
	assert.Equal(t, "n2", res.Source)
	assert.Equal(t, []string{"n1", "n3"}, res.Stale)
}

func TestMerge_TombstoneNewerThanValue(t *testing.T) {
	got := MergeRecords(
		NewValue([]byte("v"), 100),
		NewTombstone(150),
	)
	assert.True(t, got.IsDeleted())
	assert.Equal(t, int64(150), got.Timestamp())
}

func TestMerge_ValueNewerThanTombstone(t *testing.T) {
	got := MergeRecords(
		NewTombstone(100),
		NewValue([]byte("back"), 150),
	)
	assert.True(t, got.IsValue())
	assert.Equal(t, []byte("back"), got.Value())
}

func TestMerge_AllMissing(t *testing.T) {
	got := MergeRecords(NewMissing(), NewMissing(), NewMissing())
	assert.True(t, got.IsMissing())
	assert.Equal(t, MissingTimestamp, got.Timestamp())

	res := Merge([]Reply{{Source: "n1", Record: NewMissing()}})
	assert.True(t, res.Winner.IsMissing())
	assert.Empty(t, res.Source)
	assert.Empty(t, res.Stale)
}

func TestMerge_SingleRecord(t *testing.T) {
	got := MergeRecords(NewTombstone(9))
	assert.True(t, got.Equal(NewTombstone(9)))
}

func TestMerge_TieBreakSmallestSource(t *testing.T) {
	replies := []Reply{
		{Source: "n3", Record: NewValue([]byte("c"), 100)},
		{Source: "n1", Record: NewValue([]byte("a"), 100)},
		{Source: "n2", Record: NewTombstone(100)},
	}

	res := Merge(replies)
	assert.Equal(t, "n1", res.Source)
	assert.Equal(t, []byte("a"), res.Winner.Value())
}

func TestMerge_TieBreakWithoutSource(t *testing.T) {
	got := MergeRecords(NewValue([]byte("b"), 5), NewTombstone(5), NewValue([]byte("a"), 5))
	assert.True(t, got.IsDeleted())

	got = MergeRecords(NewValue([]byte("b"), 5), NewValue([]byte("a"), 5))
	assert.Equal(t, []byte("a"), got.Value())
}

// Every ordering of the same replies must produce the same winner.
func TestMerge_Property_OrderIndependent(t *testing.T) {
	base := []Reply{
		{Source: "n1", Record: NewValue([]byte("x"), 10)},
		{Source: "n2", Record: NewTombstone(30)},
		{Source: "n3", Record: NewValue([]byte("y"), 30)},
		{Source: "n4", Record: NewMissing()},
		{Source: "n5", Record: NewValue([]byte("z"), 20)},
	}
	want := Merge(base)

	permute(base, 0, func(p []Reply) {
		got := Merge(p)
		if !got.Winner.Equal(want.Winner) || got.Source != want.Source {
			t.Fatalf("order dependent merge: want %s from %s, got %s from %s",
				want.Winner, want.Source, got.Winner, got.Source)
		}
		assert.Equal(t, want.Stale, got.Stale)
	})
}

func permute(s []Reply, k int, visit func([]Reply)) {
	if k == len(s) {
		cp := make([]Reply, len(s))
		copy(cp, s)
		visit(cp)
		return
	}
	for i := k; i < len(s); i++ {
		s[k], s[i] = s[i], s[k]
		permute(s, k+1, visit)
		s[k], s[i] = s[i], s[k]
	}
}
