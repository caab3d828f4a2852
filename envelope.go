package gelfpipe

import (
	"errors"
	"fmt"
	"io"
)

// EnvelopeEncoder writes GELF envelopes: a JSON object whose metadata fields
// are small and fully buffered, followed by a full_message string that is
// streamed from a reader of unbounded size, escaped chunk by chunk, and never
// held in memory as a whole.
type EnvelopeEncoder struct {
	*EnvelopeOptions
}

// NewEnvelopeEncoder returns an EnvelopeEncoder. A nil opts means defaults.
func NewEnvelopeEncoder(opts *EnvelopeOptions) *EnvelopeEncoder {
	if opts == nil {
		opts = DefaultEnvelopeOptions()
	} else {
		opts.resolve()
	}
	return &EnvelopeEncoder{EnvelopeOptions: opts}
}

// Encode writes the envelope for meta and body to dst, and returns the
// number of body bytes read.
//
// With nil meta only the escaped body is written, with no braces, quotes or
// other fields. Otherwise the output is
//
//	{"k1":v1,...,"kn":vn,"full_message":"<escaped body>"}
//
// with the fields in the order of meta. A nil body is an empty body.
//
// The first failing write aborts the encoding; nothing is retried.
func (e *EnvelopeEncoder) Encode(dst io.Writer, meta Metadata, body io.Reader) (int64, error) {
	if meta != nil {
		head, err := appendEnvelopeHead(make([]byte, 0, 256), meta)
		if err != nil {
			return 0, err
		}
		if _, err := dst.Write(head); err != nil {
			return 0, wrapError(KindWrite, "write envelope head", err)
		}
	}

	n, err := e.encodeBody(dst, body)
	if err != nil {
		return n, err
	}

	if meta != nil {
		if _, err := io.WriteString(dst, `"}`); err != nil {
			return n, wrapError(KindWrite, "write envelope tail", err)
		}
	}
	return n, nil
}

// appendEnvelopeHead renders everything up to and including the opening
// quote of full_message.
func appendEnvelopeHead(dst []byte, meta Metadata) ([]byte, error) {
	dst = append(dst, '{')
	for _, a := range meta {
		var err error
		dst = AppendQuoted(dst, a.Key)
		dst = append(dst, ':')
		if dst, err = appendJSONValue(dst, a.Value.Resolve()); err != nil {
			return nil, newError(KindEncoding, fmt.Sprintf("encode field %q", a.Key), err)
		}
		dst = append(dst, ',')
	}
	dst = AppendQuoted(dst, FullMessageKey)
	return append(dst, ':', '"'), nil
}

func (e *EnvelopeEncoder) encodeBody(dst io.Writer, body io.Reader) (int64, error) {
	esc := NewEscaper(dst, e.StrictUTF8)
	if body == nil {
		return 0, esc.Close()
	}

	var total int64
	buf := make([]byte, e.ChunkSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			total += int64(n)
			if _, err := esc.Write(buf[:n]); err != nil {
				return total, err
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return total, newError(KindRead, "read message body", rerr)
		}
	}
	return total, esc.Close()
}
