package gelfpipe

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// EventTime is a timestamp in the Fluent forward protocol's own msgpack
// extension (type 0), which keeps nanoseconds:
//
// +-------+----+----+----+----+----+----+----+----+----+
// |     1 |  2 |  3 |  4 |  5 |  6 |  7 |  8 |  9 | 10 |
// +-------+----+----+----+----+----+----+----+----+----+
// |    D7 | 00 | seconds from epoch| nanoseconds       |
// +-------+----+----+----+----+----+----+----+----+----+
// |fixext8|type| 32bit uint BE     | 32bit uint BE     |
// +-------+----+----+----+----+----+----+----+----+----+
//
//	ref: https://github.com/fluent/fluentd/wiki/Forward-Protocol-Specification-v1#eventtime-ext-format
type EventTime time.Time

// compile-time check for msgpack Custom[En|De]coder conformance
var _ msgpack.CustomEncoder = (*EventTime)(nil)
var _ msgpack.CustomDecoder = (*EventTime)(nil)

const (
	eventTimeExtType = 0
	eventTimeLen     = 8
)

// EncodeMsgpack writes the extension header and the 8 byte payload.
func (t *EventTime) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeExtHeader(eventTimeExtType, eventTimeLen); err != nil {
		return fmt.Errorf("failed to encode EventTime header: %w", err)
	}

	// NB: 32bit seconds => constrained to 1970-2106
	utc := time.Time(*t).UTC()
	var b [eventTimeLen]byte
	binary.BigEndian.PutUint32(b[:4], uint32(utc.Unix()))
	binary.BigEndian.PutUint32(b[4:], uint32(utc.Nanosecond()))

	if _, err := enc.Writer().Write(b[:]); err != nil {
		return fmt.Errorf("failed to encode EventTime payload: %w", err)
	}
	return nil
}

// DecodeMsgpack reads an EventTime, header included.
func (t *EventTime) DecodeMsgpack(dec *msgpack.Decoder) error {
	var b [2 + eventTimeLen]byte
	if err := dec.ReadFull(b[:]); err != nil {
		return fmt.Errorf("failed to decode EventTime: %w", err)
	}
	if b[0] != 0xD7 || b[1] != eventTimeExtType {
		return fmt.Errorf("failed to decode EventTime: header %X %X, expected D7 00", b[0], b[1])
	}

	secs := int64(binary.BigEndian.Uint32(b[2:6]))
	nsecs := int64(binary.BigEndian.Uint32(b[6:]))
	*t = EventTime(time.Unix(secs, nsecs).UTC())
	return nil
}
