package gelfpipe

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
)

// HTTPClient delivers a record to an HTTP collector: the metadata fields go
// into the query string, and the message body, escaped but not wrapped in a
// JSON object, is compressed into the request payload.
type HTTPClient struct {
	opts     *ClientOptions
	endpoint *url.URL
	enc      *EnvelopeEncoder
	hc       *http.Client
}

// NewHTTPClient validates endpoint, which must be an absolute http or https
// URL, and returns an HTTPClient.
func NewHTTPClient(endpoint string, opts *ClientOptions) (*HTTPClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, newError(KindConfiguration, "parse http endpoint", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, newError(KindConfiguration, "parse http endpoint",
			fmt.Errorf("%q is not an absolute http(s) URL", endpoint))
	}

	if opts == nil {
		opts = DefaultClientOptions()
	} else {
		opts.resolve()
	}

	hc := opts.HTTPClient
	if hc == nil {
		// only the dial and the TLS handshake are bounded
		hc = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: opts.DialTimeout}).DialContext,
				TLSHandshakeTimeout: opts.DialTimeout,
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
			},
		}
	}

	return &HTTPClient{
		opts:     opts,
		endpoint: u,
		enc:      NewEnvelopeEncoder(opts.Envelope),
		hc:       hc,
	}, nil
}

// Send issues one request for meta and body and prints the response status
// line, headers and body to out.
//
// With a nil body (no input available) the request is a GET carrying only
// the query string. Otherwise the compressed body is built in memory first,
// so that the request has a known length, and POSTed.
//
// A response status of 400 or above is reported as a ConnectionError after
// the response has been printed.
func (c *HTTPClient) Send(ctx context.Context, meta Metadata, body io.Reader, out io.Writer) (err error) {
	var n int64
	defer func() { observeDelivery("http", n, err) }()

	u := *c.endpoint
	q := u.Query()
	for _, a := range meta {
		q.Set(a.Key, queryValue(a.Value.Resolve()))
	}
	u.RawQuery = q.Encode()

	method := http.MethodGet
	var payload *bytes.Buffer
	if body != nil {
		payload = new(bytes.Buffer)
		sink, err := NewCompressingSink(payload, c.opts.Sink)
		if err != nil {
			return err
		}
		n, err = c.enc.Encode(sink, nil, body)
		if err = errors.Join(err, sink.Close()); err != nil {
			return err
		}
		method = http.MethodPost
		c.debug("compressed %d body bytes into %d bytes", n, payload.Len())
	}

	var req *http.Request
	if payload != nil {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), payload)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	}
	if err != nil {
		return newError(KindConfiguration, "build http request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		req.Header.Set("Content-Encoding", c.opts.Sink.Codec.ContentEncoding())
	}

	c.debug("%s %s", method, u.Redacted())
	resp, err := c.hc.Do(req)
	if err != nil {
		return newError(KindConnection, fmt.Sprintf("%s %s", method, u.Redacted()), err)
	}
	defer resp.Body.Close()

	if err = printResponse(out, resp); err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return newError(KindConnection, fmt.Sprintf("%s %s", method, u.Redacted()),
			fmt.Errorf("collector responded %s", resp.Status))
	}
	return nil
}

func printResponse(out io.Writer, resp *http.Response) error {
	if _, err := fmt.Fprintf(out, "%s %s\n", resp.Proto, resp.Status); err != nil {
		return newError(KindWrite, "print response", err)
	}
	if err := resp.Header.Write(out); err != nil {
		return newError(KindWrite, "print response headers", err)
	}
	if _, err := io.WriteString(out, "\n"); err != nil {
		return newError(KindWrite, "print response", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		return newError(KindRead, "read response body", err)
	}
	return nil
}

func (c *HTTPClient) debug(format string, args ...any) {
	if !c.opts.Verbose {
		return
	}
	InternalLogger().Printf(format, args...)
}
