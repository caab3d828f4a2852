package gelfpipe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// Client delivers one compressed GELF envelope per Send over a fresh TCP (or
// TLS) connection. There is no connection reuse, queueing or retry: a dial
// or write failure is returned to the caller and the partial stream is
// abandoned.
type Client struct {
	opts *ClientOptions
	addr string
	enc  *EnvelopeEncoder
}

// NewClient validates addr ("host:port") and returns a Client. Nothing is
// dialed until Send.
func NewClient(addr string, opts *ClientOptions) (*Client, error) {
	if err := ValidateHostPort(addr); err != nil {
		return nil, err
	}

	if opts == nil {
		opts = DefaultClientOptions()
	} else {
		opts.resolve()
	}

	c := &Client{
		opts: opts,
		addr: addr,
		enc:  NewEnvelopeEncoder(opts.Envelope),
	}
	c.debug("created Client with the resolved ClientOptions: %+v", c.opts)
	return c, nil
}

// ValidateHostPort reports a ConfigurationError unless addr is host:port
// with a non-empty host and a port in 1-65535.
func ValidateHostPort(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return newError(KindConfiguration, "parse host:port", err)
	}
	if host == "" {
		return newError(KindConfiguration, "parse host:port", fmt.Errorf("missing host in %q", addr))
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return newError(KindConfiguration, "parse host:port", fmt.Errorf("invalid port %q", port))
	}
	return nil
}

// Send dials the collector, streams the envelope for meta and body through
// the compressor into the connection, then finalizes the compressed stream
// and closes the connection. Both are released on every path, including
// after a failed write.
func (c *Client) Send(ctx context.Context, meta Metadata, body io.Reader) (err error) {
	var n int64
	defer func() { observeDelivery("tcp", n, err) }()

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}

	var w io.Writer = conn
	if c.opts.WriteTimeout > 0 {
		w = &deadlineWriter{conn: conn, timeout: c.opts.WriteTimeout}
	}

	sink, err := NewCompressingSink(w, c.opts.Sink)
	if err != nil {
		conn.Close()
		return err
	}

	n, err = c.enc.Encode(sink, meta, body)
	c.debug("encoded %d body bytes, %d bytes before compression", n, sink.BytesIn())

	// the trailer goes out before the connection closes
	err = errors.Join(err, sink.Close())
	if cerr := conn.Close(); cerr != nil {
		err = errors.Join(err, newError(KindWrite, "close connection", cerr))
	}
	if err == nil {
		c.debug("sent %d compressed bytes to %s", sink.BytesOut(), c.addr)
	}
	return err
}

func (c *Client) connect(ctx context.Context) (net.Conn, error) {

	var d net.Dialer
	ctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	c.debug("dialing collector at %s over %s", c.addr, c.opts.Network)

	switch c.opts.Network {
	case "tls":
		tlsDialer := tls.Dialer{
			NetDialer: &d,
			Config:    &tls.Config{InsecureSkipVerify: c.opts.InsecureSkipVerify},
		}
		conn, err := tlsDialer.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			return nil, newError(KindConnection, fmt.Sprintf("dial %s over tls", c.addr), err)
		}
		return conn, nil
	default:
		conn, err := d.DialContext(ctx, "tcp", c.addr)
		if err != nil {
			return nil, newError(KindConnection, fmt.Sprintf("dial %s over tcp", c.addr), err)
		}
		return conn, nil
	}
}

// deadlineWriter sets a fresh write deadline before every write.
type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return 0, err
	}
	return w.conn.Write(p)
}

func (c *Client) debug(format string, args ...any) {
	if !c.opts.Verbose {
		return
	}
	InternalLogger().Printf(format, args...)
}
