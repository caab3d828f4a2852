package gelfpipe

import (
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const hexDigits = "0123456789abcdef"

// errInvalidUTF8 is wrapped into an EncodingError in strict mode.
var errInvalidUTF8 = errors.New("invalid UTF-8 sequence")

// Escaper is an io.Writer that escapes everything written to it as the body
// of a JSON string (no surrounding quotes) and passes the result to the
// underlying writer.
//
// Input is decoded as UTF-8. Chunk boundaries carry no meaning: a multi-byte
// sequence split across two writes is held back until it is complete, so the
// output is the same no matter how the input was cut. Invalid bytes become
// \ufffd, unless the Escaper is strict, in which case Write fails with an
// EncodingError.
//
// Close must be called after the last Write to flush a trailing incomplete
// sequence. It does not close the underlying writer.
type Escaper struct {
	w      io.Writer
	strict bool
	buf    []byte

	// incomplete UTF-8 prefix left over from the previous Write
	carry  [utf8.UTFMax]byte
	nCarry int

	err error
}

// NewEscaper returns an Escaper writing to w.
func NewEscaper(w io.Writer, strict bool) *Escaper {
	return &Escaper{w: w, strict: strict}
}

// Write escapes p. It reports len(p) on success; p is either fully escaped
// or held as a partial sequence.
func (e *Escaper) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n := len(p)
	out := e.buf[:0]

	if e.nCarry > 0 {
		// complete the held sequence using at most UTFMax bytes of p
		var scratch [2 * utf8.UTFMax]byte
		m := copy(scratch[:], e.carry[:e.nCarry])
		m += copy(scratch[m:], p[:min(len(p), utf8.UTFMax)])

		var c int
		var err error
		out, c, err = escapeJSON(out, scratch[:m], false, e.strict)
		if err != nil {
			return 0, e.fail(err)
		}
		if c < e.nCarry {
			// still incomplete, which means all of p went into scratch
			e.nCarry = copy(e.carry[:], scratch[c:m])
			return n, e.flush(out)
		}
		p = p[c-e.nCarry:]
		e.nCarry = 0
	}

	out, c, err := escapeJSON(out, p, false, e.strict)
	if err != nil {
		return 0, e.fail(err)
	}
	e.nCarry = copy(e.carry[:], p[c:])
	return n, e.flush(out)
}

// Close flushes a held partial sequence, which at end of input can only be
// invalid.
func (e *Escaper) Close() error {
	if e.err != nil {
		return e.err
	}
	if e.nCarry == 0 {
		return nil
	}
	out, _, err := escapeJSON(e.buf[:0], e.carry[:e.nCarry], true, e.strict)
	e.nCarry = 0
	if err != nil {
		return e.fail(err)
	}
	return e.flush(out)
}

func (e *Escaper) flush(out []byte) error {
	e.buf = out[:0]
	if len(out) == 0 {
		return nil
	}
	if _, err := e.w.Write(out); err != nil {
		return e.fail(wrapError(KindWrite, "write escaped text", err))
	}
	return nil
}

func (e *Escaper) fail(err error) error {
	e.err = err
	return err
}

// AppendString appends s escaped as the body of a JSON string.
func AppendString(dst []byte, s string) []byte {
	dst, _, _ = escapeJSON(dst, []byte(s), true, false)
	return dst
}

// AppendQuoted appends s as a quoted JSON string.
func AppendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '"')
	dst = AppendString(dst, s)
	return append(dst, '"')
}

// escapeJSON appends the escaped form of src to dst and reports how many
// bytes of src it consumed. Unless final is set it stops before an
// incomplete UTF-8 sequence at the end of src.
func escapeJSON(dst, src []byte, final, strict bool) ([]byte, int, error) {
	start := 0
	i := 0
	for i < len(src) {
		b := src[i]
		if b < utf8.RuneSelf {
			if b >= 0x20 && b != '"' && b != '\\' {
				i++
				continue
			}
			dst = append(dst, src[start:i]...)
			switch b {
			case '"', '\\':
				dst = append(dst, '\\', b)
			case '\b':
				dst = append(dst, '\\', 'b')
			case '\f':
				dst = append(dst, '\\', 'f')
			case '\n':
				dst = append(dst, '\\', 'n')
			case '\r':
				dst = append(dst, '\\', 'r')
			case '\t':
				dst = append(dst, '\\', 't')
			default:
				dst = append(dst, '\\', 'u', '0', '0', hexDigits[b>>4], hexDigits[b&0xf])
			}
			i++
			start = i
			continue
		}

		if !final && !utf8.FullRune(src[i:]) {
			break
		}
		r, size := utf8.DecodeRune(src[i:])
		if r == utf8.RuneError && size == 1 {
			if strict {
				return dst, start, newError(KindEncoding, "escape body",
					fmt.Errorf("%w: byte 0x%02x", errInvalidUTF8, b))
			}
			dst = append(dst, src[start:i]...)
			dst = append(dst, `\ufffd`...)
			i++
			start = i
			continue
		}
		if r == '\u2028' || r == '\u2029' {
			dst = append(dst, src[start:i]...)
			dst = append(dst, '\\', 'u', '2', '0', '2', hexDigits[r&0xf])
			i += size
			start = i
			continue
		}
		i += size
	}
	dst = append(dst, src[start:i]...)
	return dst, i, nil
}
