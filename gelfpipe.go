/*
Package gelfpipe forwards one log record per invocation to a GELF collector,
streaming an arbitrarily large message body without holding it in memory:

  - `gelfpipe.Escaper` - escapes a byte stream as the inside of a JSON string,
    independent of how the stream is chunked
  - `gelfpipe.EnvelopeEncoder` - writes the GELF JSON object, metadata first
    and the escaped body last, as full_message
  - `gelfpipe.CompressingSink` - compresses everything written to it
    (gzip, zlib, zstd or snappy) into a destination writer
  - `gelfpipe.Client` and `gelfpipe.HTTPClient` - deliver the compressed
    envelope over TCP/TLS, or as an HTTP request
  - `gelfpipe.Handler` - the local facility, an `slog.Handler` that forwards
    with its own encoding (chunked GELF over UDP, Fluent forward, syslog)

The pipeline is push-style: the input loop reads a chunk, the Escaper
writes the escaped chunk into the CompressingSink, which writes compressed
bytes into the connection. Nothing is buffered for retry: either one
complete envelope is delivered or an *Error says why not. Only the local
Handler retries, and only while dialing.
*/
package gelfpipe
