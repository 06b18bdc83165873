package record

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// headerSize is the tag byte plus the big-endian int64 timestamp.
const headerSize = 1 + 8

// ErrMalformed is returned when bytes cannot be decoded into a record.
var ErrMalformed = errors.New("malformed record")

// Encode serializes the record: tag byte, 8-byte big-endian timestamp, then
// the value bytes for Value records only.
func Encode(r Record) []byte {
	size := headerSize
	if r.kind == Value {
		size += len(r.value)
	}
	buf := make([]byte, size)
	buf[0] = byte(r.kind)
	binary.BigEndian.PutUint64(buf[1:headerSize], uint64(r.timestamp))
	if r.kind == Value {
		copy(buf[headerSize:], r.value)
	}
	return buf
}

// Decode parses bytes produced by Encode. Empty input is how a store reports
// an absent key, so it decodes to the Missing record rather than an error.
func Decode(data []byte) (Record, error) {
	if len(data) == 0 {
		return NewMissing(), nil
	}
	if len(data) < headerSize {
		return Record{}, errors.Wrapf(ErrMalformed, "length %d shorter than header", len(data))
	}

	ts := int64(binary.BigEndian.Uint64(data[1:headerSize]))
	switch Kind(int8(data[0])) {
	case Value:
		return NewValue(data[headerSize:], ts), nil
	case Deleted:
		if len(data) != headerSize {
			return Record{}, errors.Wrap(ErrMalformed, "tombstone with trailing bytes")
		}
		return NewTombstone(ts), nil
	case Missing:
		return NewMissing(), nil
	default:
		return Record{}, errors.Wrapf(ErrMalformed, "unknown tag %d", int8(data[0]))
	}
}
