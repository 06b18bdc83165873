package record

import "fmt"

// Kind tags the state a record is in. The numeric values are the wire tags.
type Kind int8

const (
	// Missing means the replica had nothing for the key. Never persisted.
	Missing Kind = 0
	// Value carries a live value.
	Value Kind = 1
	// Deleted is a tombstone.
	Deleted Kind = -1
)

// MissingTimestamp is the timestamp carried by Missing records.
const MissingTimestamp int64 = -1

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case Value:
		return "VALUE"
	case Deleted:
		return "DELETED"
	case Missing:
		return "MISSING"
	default:
		return fmt.Sprintf("Kind(%d)", int8(k))
	}
}

// Record is an immutable versioned entry. Construct it with NewValue,
// NewTombstone or NewMissing; the zero value is not a valid record.
type Record struct {
	kind      Kind
	timestamp int64
	value     []byte
}

// NewValue creates a live record. The value is copied.
func NewValue(value []byte, timestamp int64) Record {
	v := make([]byte, len(value))
	copy(v, value)
	return Record{kind: Value, timestamp: timestamp, value: v}
}

// NewTombstone creates a deletion marker.
func NewTombstone(timestamp int64) Record {
	return Record{kind: Deleted, timestamp: timestamp}
}

// NewMissing returns the "replica has nothing" sentinel.
func NewMissing() Record {
	return Record{kind: Missing, timestamp: MissingTimestamp}
}

// Kind returns the record kind.
func (r Record) Kind() Kind { return r.kind }

// Timestamp returns the write time in milliseconds.
func (r Record) Timestamp() int64 { return r.timestamp }

// IsValue reports whether the record holds a live value.
func (r Record) IsValue() bool { return r.kind == Value }

// IsDeleted reports whether the record is a tombstone.
func (r Record) IsDeleted() bool { return r.kind == Deleted }

// IsMissing reports whether the record is the missing sentinel.
func (r Record) IsMissing() bool { return r.kind == Missing }

// Value returns a copy of the stored bytes. It panics for non-value records.
func (r Record) Value() []byte {
	if r.kind != Value {
		panic("record: no value in " + r.kind.String() + " record")
	}
	out := make([]byte, len(r.value))
	copy(out, r.value)
	return out
}

// Equal reports whether two records have the same kind, timestamp and value.
func (r Record) Equal(other Record) bool {
	if r.kind != other.kind || r.timestamp != other.timestamp {
		return false
	}
	return string(r.value) == string(other.value)
}

func (r Record) String() string {
	if r.kind == Value {
		return fmt.Sprintf("%s@%d(%d bytes)", r.kind, r.timestamp, len(r.value))
	}
	return fmt.Sprintf("%s@%d", r.kind, r.timestamp)
}
