package gelfpipe

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	newFluentBufferCap = 1 << 10
	maxFluentBufferCap = 1 << 16
)

// fluentEncoderPool shares the msgpack Encoders used by the fluent format of
// the local Handler. Every pooled encoder already holds the message prelude:
// the outer array header and the tag.
type fluentEncoderPool struct {
	p       sync.Pool
	prelude []byte
	coarse  bool
}

// newFluentEncoderPool renders the prelude for tag once; coarse selects unix
// second timestamps instead of EventTime.
func newFluentEncoderPool(tag string, coarse bool) (*fluentEncoderPool, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	// message mode: [tag, time, record]
	if err := enc.EncodeArrayLen(3); err != nil {
		return nil, fmt.Errorf("failed to encode the message array length: %w", err)
	}
	if err := enc.EncodeString(tag); err != nil {
		return nil, fmt.Errorf("failed to encode the tag: %w", err)
	}

	ep := &fluentEncoderPool{prelude: buf.Bytes(), coarse: coarse}
	ep.p = sync.Pool{
		New: func() any {
			b := bytes.NewBuffer(make([]byte, 0, max(newFluentBufferCap, len(ep.prelude))))
			b.Write(ep.prelude)
			return &fluentEncoder{
				Buffer:  b,
				Encoder: msgpack.NewEncoder(b),
				p:       ep,
			}
		},
	}
	return ep, nil
}

// get returns an Encoder with the prelude pre-rendered.
func (p *fluentEncoderPool) get() *fluentEncoder {
	return p.p.Get().(*fluentEncoder)
}

// put resets an Encoder and returns it to the shared pool.
func (p *fluentEncoderPool) put(e *fluentEncoder) {

	// drop if the buffer got too large
	if e.Buffer.Cap() > maxFluentBufferCap {
		return
	}

	// reset for the next usage
	e.Buffer.Truncate(len(p.prelude))
	e.Encoder.Reset(e.Buffer)

	p.p.Put(e)
}

// fluentEncoder provides a msgpack encoder and its underlying bytes.Buffer.
type fluentEncoder struct {
	*bytes.Buffer
	*msgpack.Encoder
	p *fluentEncoderPool
}

// free returns the encoder to the shared pool.
func (e *fluentEncoder) free() {
	e.p.put(e)
}

// encodeEventTime encodes t as an EventTime, or as unix seconds when the pool
// uses coarse timestamps.
func (e *fluentEncoder) encodeEventTime(t time.Time) error {

	// no timezone support in Fluent spec; ensure time is in UTC
	utc := t.UTC()

	if e.p.coarse {
		if err := e.EncodeInt64(utc.Unix()); err != nil {
			return fmt.Errorf("failed to encode timestamp as int64: %w", err)
		}
		return nil
	}

	et := EventTime(utc)
	if err := e.Encode(&et); err != nil {
		return fmt.Errorf("failed to encode timestamp as EventTime: %w", err)
	}
	return nil
}
