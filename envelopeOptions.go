package gelfpipe

// EnvelopeOptions are used to customize the EnvelopeEncoder.
//
// NB: The struct pointer options approach is used to be consistent with the
// other components' options.
type EnvelopeOptions struct {

	// ChunkSize is the size, in bytes, of each read from the message body.
	// It bounds the memory used for the body, and has no effect on the
	// output. The minimum is 64 bytes. The default is 64KiB.
	ChunkSize int

	// StrictUTF8 makes invalid UTF-8 in the body an EncodingError. By
	// default each invalid byte is replaced with U+FFFD.
	StrictUTF8 bool
}

const (
	minChunkSize     = 64
	defaultChunkSize = 1 << 16
)

// DefaultEnvelopeOptions returns *EnvelopeOptions with all default values.
func DefaultEnvelopeOptions() *EnvelopeOptions {
	return &EnvelopeOptions{
		ChunkSize: defaultChunkSize,
	}
}

// resolve ensures that all options have valid values.
func (o *EnvelopeOptions) resolve() {

	// unset means default, too small means the minimum
	if o.ChunkSize == 0 {
		o.ChunkSize = defaultChunkSize
	}
	o.ChunkSize = max(o.ChunkSize, minChunkSize)
}
