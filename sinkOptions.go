package gelfpipe

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
)

// Codec names a streaming compressor.
type Codec string

const (
	// CodecGzip is understood by every GELF receiver; it is the default.
	CodecGzip Codec = "gzip"

	// CodecZlib is the other format GELF receivers sniff for.
	CodecZlib Codec = "zlib"

	// CodecZstd trades receiver support for speed.
	CodecZstd Codec = "zstd"

	// CodecSnappy writes the snappy framing format.
	CodecSnappy Codec = "snappy"
)

// ParseCodec looks up a codec by name, ignoring case. The empty name is gzip.
func ParseCodec(name string) (Codec, error) {
	c := Codec(strings.ToLower(strings.TrimSpace(name)))
	switch c {
	case "":
		return CodecGzip, nil
	case CodecGzip, CodecZlib, CodecZstd, CodecSnappy:
		return c, nil
	}
	return "", newError(KindConfiguration, "parse codec",
		fmt.Errorf("unknown codec %q, want one of gzip|zlib|zstd|snappy", name))
}

// ContentEncoding returns the HTTP Content-Encoding token for the codec.
func (c Codec) ContentEncoding() string {
	switch c {
	case CodecZlib:
		return "deflate"
	case CodecZstd:
		return "zstd"
	case CodecSnappy:
		return "x-snappy-framed"
	}
	return "gzip"
}

// SinkOptions are used to customize the CompressingSink.
type SinkOptions struct {

	// Codec selects the compressor. The default is gzip.
	Codec Codec

	// Level is the compression level for gzip and zlib (1-9), and is mapped
	// onto the nearest zstd speed for zstd. Snappy has no levels. Log
	// shipping favors CPU over ratio, so the default is 2. 0 means default.
	Level int

	// Mirror, when set, receives an uncompressed copy of every write, before
	// compression. Used for verbose output.
	Mirror io.Writer
}

const defaultCompressionLevel = 2

// DefaultSinkOptions returns *SinkOptions with all default values.
func DefaultSinkOptions() *SinkOptions {
	return &SinkOptions{
		Codec: CodecGzip,
		Level: defaultCompressionLevel,
	}
}

// resolve ensures that all options have valid values.
func (o *SinkOptions) resolve() {

	// unknown codecs fall back to gzip
	if c, err := ParseCodec(string(o.Codec)); err != nil {
		o.Codec = CodecGzip
	} else {
		o.Codec = c
	}

	// constrain to the range shared by gzip and zlib
	if o.Level == 0 || o.Level < flate.HuffmanOnly || o.Level > flate.BestCompression {
		o.Level = defaultCompressionLevel
	}
}
