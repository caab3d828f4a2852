package gelfpipe

import (
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// CompressingSink is an io.WriteCloser that compresses everything written to
// it into a destination writer. Close writes the compressor trailer; it is
// safe to call more than once and never closes the destination.
type CompressingSink struct {
	*SinkOptions
	dst    *countingWriter
	zw     io.WriteCloser
	mirror io.Writer

	bytesIn  int64
	closed   bool
	closeErr error
}

// NewCompressingSink wraps dst with the compressor selected by opts. A nil
// opts means defaults.
func NewCompressingSink(dst io.Writer, opts *SinkOptions) (*CompressingSink, error) {
	if opts == nil {
		opts = DefaultSinkOptions()
	} else {
		opts.resolve()
	}

	s := &CompressingSink{
		SinkOptions: opts,
		dst:         &countingWriter{w: dst},
		mirror:      opts.Mirror,
	}

	var err error
	switch opts.Codec {
	case CodecZlib:
		s.zw, err = zlib.NewWriterLevel(s.dst, opts.Level)
	case CodecZstd:
		s.zw, err = zstd.NewWriter(s.dst,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)),
			zstd.WithEncoderConcurrency(1))
	case CodecSnappy:
		s.zw = snappy.NewBufferedWriter(s.dst)
	default:
		s.zw, err = gzip.NewWriterLevel(s.dst, opts.Level)
	}
	if err != nil {
		return nil, newError(KindConfiguration, fmt.Sprintf("create %s compressor", opts.Codec), err)
	}
	return s, nil
}

// Write mirrors p, if a mirror is set, and compresses it.
func (s *CompressingSink) Write(p []byte) (int, error) {
	if s.closed {
		return 0, newError(KindWrite, "write to closed sink", io.ErrClosedPipe)
	}
	if s.mirror != nil {
		if _, err := s.mirror.Write(p); err != nil {
			// the mirror is for humans; losing it must not lose the delivery
			InternalLogger().Printf("verbose mirror failed, disabling it: %v", err)
			s.mirror = nil
		}
	}
	n, err := s.zw.Write(p)
	s.bytesIn += int64(n)
	if err != nil {
		return n, newError(KindWrite, "compress", err)
	}
	return n, nil
}

// Close finalizes the compressed stream. Only the first call does any work;
// later calls return its result.
func (s *CompressingSink) Close() error {
	if s.closed {
		return s.closeErr
	}
	s.closed = true
	if err := s.zw.Close(); err != nil {
		s.closeErr = newError(KindWrite, fmt.Sprintf("finalize %s stream", s.Codec), err)
	}
	wireBytes.WithLabelValues(string(s.Codec)).Add(float64(s.dst.n))
	return s.closeErr
}

// BytesIn reports the uncompressed bytes accepted so far.
func (s *CompressingSink) BytesIn() int64 { return s.bytesIn }

// BytesOut reports the compressed bytes written to the destination so far.
func (s *CompressingSink) BytesOut() int64 { return s.dst.n }

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
