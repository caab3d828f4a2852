package gelfpipe

import (
	"net/http"
	"time"
)

// ClientOptions are used to customize the TCP Client and the HTTPClient.
//
// # Invalid options are coerced
//
// NB: The struct pointer options approach is used to be consistent with the
// options used for the Handler, which uses the struct pointer approach to be
// consistent with the `HandlerOptions` used by log/slog.
type ClientOptions struct {

	// Network used to reach the collector: "tcp" or "tls". The default is
	// "tcp".
	Network string

	// DialTimeout sets the timeout for dialing the collector. The default is
	// 30s. The dial is attempted exactly once.
	DialTimeout time.Duration

	// WriteTimeout, when positive, sets a deadline on every write to the
	// connection. The default is no deadline, so a slow collector slows the
	// pipe down instead of failing it.
	WriteTimeout time.Duration

	// InsecureSkipVerify controls whether the client verifies the server's
	// certificate chain and host name when using TLS.
	InsecureSkipVerify bool

	// HTTPClient is used by the HTTPClient transport. When nil, one is built
	// from DialTimeout and InsecureSkipVerify.
	HTTPClient *http.Client

	// Envelope customizes the envelope encoding. nil means defaults.
	Envelope *EnvelopeOptions

	// Sink customizes the compression. nil means defaults.
	Sink *SinkOptions

	// Verbose controls whether debug logs are written to the internal logger.
	Verbose bool
}

const (
	defaultNetwork     = "tcp"
	defaultDialTimeout = time.Second * 30
)

// DefaultClientOptions returns *ClientOptions with all default values.
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		Network:     defaultNetwork,
		DialTimeout: defaultDialTimeout,
		Envelope:    DefaultEnvelopeOptions(),
		Sink:        DefaultSinkOptions(),
	}
}

// resolve ensures that all options have valid values.
func (o *ClientOptions) resolve() {

	// only [tcp|tls]; a GELF stream needs a reliable transport
	if o.Network != "tcp" && o.Network != "tls" {
		o.Network = defaultNetwork
	}

	// must be positive
	if o.DialTimeout < 1 {
		o.DialTimeout = defaultDialTimeout
	}

	if o.Envelope == nil {
		o.Envelope = DefaultEnvelopeOptions()
	} else {
		o.Envelope.resolve()
	}

	if o.Sink == nil {
		o.Sink = DefaultSinkOptions()
	} else {
		o.Sink.resolve()
	}
}
