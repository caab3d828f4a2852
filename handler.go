package gelfpipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bitdabbler/backoff"
	slogsyslog "github.com/samber/slog-syslog/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Handler is the local facility: an slog.Handler that forwards each record to
// a collector using its own wire encoding, chosen by HandlerOptions.Format.
// Unlike the Client it is handed the raw message body, as the string value of
// a "full_message" attribute, and does its own framing and compression.
//
//	// Example of basic usage
//	h, err := gelfpipe.NewHandler(ctx, &gelfpipe.HandlerOptions{Facility: "billing"})
//	if err != nil {
//	   log.Fatalln(err)
//	}
//	defer h.Close()
//
//	logger := slog.New(h)
//	logger.Warn("disk almost full", "full_message", df)
//
// Attributes other than full_message become GELF additional fields ("_key")
// or Fluent record entries. Groups are flattened into dotted keys.
type Handler struct {
	*HandlerOptions
	s     *sender
	enc   *EnvelopeEncoder
	attrs []slog.Attr
	group string

	// set for FormatFluent
	fluent *fluentEncoderPool

	// set for FormatSyslog, which is delegated entirely
	syslog slog.Handler
	sw     *syslogWriter
}

// NewHandler connects to the collector and returns a Handler. Connecting is
// retried with exponential backoff up to opts.MaxDialTries times; ctx bounds
// the whole attempt.
func NewHandler(ctx context.Context, opts *HandlerOptions) (*Handler, error) {
	if opts == nil {
		opts = DefaultHandlerOptions()
	} else {
		opts.resolve()
	}

	s := &sender{
		HandlerOptions: opts,
		addr:           net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
	}
	if err := s.tryConnect(ctx, opts.MaxDialTries); err != nil {
		return nil, err
	}

	h := &Handler{
		HandlerOptions: opts,
		s:              s,
		enc:            NewEnvelopeEncoder(nil),
	}

	if opts.Format == FormatFluent {
		p, err := newFluentEncoderPool(opts.Facility, opts.CoarseTimestamps)
		if err != nil {
			s.close()
			return nil, newError(KindEncoding, "prepare fluent encoder", err)
		}
		h.fluent = p
	}

	if opts.Format == FormatSyslog {
		h.sw = &syslogWriter{s: s}
		o := &slogsyslog.Option{
			Level:  opts.Level,
			Writer: h.sw,
		}
		h.syslog = o.NewSyslogHandler().WithAttrs([]slog.Attr{slog.String(FacilityKey, opts.Facility)})
	}

	h.debug("created %s Handler for %s with the resolved HandlerOptions: %+v", opts.Format, s.addr, opts)
	return h, nil
}

// Close closes the connection to the collector. The Handler must not be used
// afterwards. For syslog it first waits, at most DialTimeout, for messages
// still being written, and reports the first failed write.
func (h *Handler) Close() error {
	var err error
	if h.sw != nil {
		err = h.sw.wait(h.DialTimeout)
	}
	return errors.Join(err, h.s.close())
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.Level.Level()
}

// WithAttrs returns a Handler whose records also carry attrs.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	if h.syslog != nil {
		h2.syslog = h.syslog.WithAttrs(attrs)
		return &h2
	}
	h2.attrs = append(h.attrs[:len(h.attrs):len(h.attrs)], flattenAttrs(nil, h.group, attrs)...)
	return &h2
}

// WithGroup returns a Handler that qualifies later attrs with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	if h.syslog != nil {
		h2.syslog = h.syslog.WithGroup(name)
		return &h2
	}
	h2.group = joinKey(h.group, name)
	return &h2
}

// Handle encodes and sends r. Unlike most handlers it reports delivery
// failures, so callers that need them should call Handle directly rather
// than through slog.Logger, which discards them.
func (h *Handler) Handle(ctx context.Context, r slog.Record) (err error) {
	var full string
	defer func() { observeDelivery("local-"+string(h.Format), int64(len(full)), err) }()

	if h.syslog != nil {
		if v, ok := findAttr(r, FullMessageKey); ok {
			full = v.String()
		}
		h.sw.expect()
		if err = h.syslog.Handle(ctx, r); err != nil {
			h.sw.done(nil)
			return newError(KindEncoding, "encode syslog message", err)
		}
		return nil
	}

	// rule: ignore record time if zero
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	fields := append([]slog.Attr(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		fields = flattenAttrs(fields, h.group, []slog.Attr{a})
		return true
	})
	full, fields = extractFullMessage(fields)

	switch h.Format {
	case FormatFluent:
		return h.sendFluent(t, r, full, fields)
	default:
		return h.sendGELF(t, r, full, fields)
	}
}

const gelfReservedID = "id"

func (h *Handler) sendGELF(t time.Time, r slog.Record, full string, fields []slog.Attr) error {
	meta := make(Metadata, 0, 6+len(fields))
	meta = append(meta,
		slog.String(VersionKey, GELFVersion),
		slog.String(HostKey, h.Hostname),
		slog.String(ShortMessageKey, r.Message),
		slog.Float64(TimestampKey, epochSeconds(t)),
		slog.Int(LevelKey, SeverityOf(r.Level)),
		slog.String(FacilityKey, h.Facility),
	)
	for _, f := range fields {
		// GELF reserves _id
		if f.Key == gelfReservedID {
			h.debug("dropping attr %q: _%s is reserved", f.Key, f.Key)
			continue
		}
		meta = append(meta, slog.Attr{Key: "_" + f.Key, Value: gelfScalar(f.Value)})
	}

	var buf bytes.Buffer
	sink, err := NewCompressingSink(&buf, &SinkOptions{Codec: CodecZlib})
	if err != nil {
		return err
	}
	_, err = h.enc.Encode(sink, meta, strings.NewReader(full))
	if err = errors.Join(err, sink.Close()); err != nil {
		return err
	}

	chunks, err := chunkGELF(buf.Bytes(), h.ChunkSize, newGELFMessageID())
	if err != nil {
		return err
	}
	h.debug("sending GELF message: %d compressed bytes in %d datagrams", buf.Len(), len(chunks))
	return h.s.write(chunks...)
}

func (h *Handler) sendFluent(t time.Time, r slog.Record, full string, fields []slog.Attr) error {
	enc := h.fluent.get()
	defer enc.free()
	errs := new(encErrs)

	errs.join("event time", enc.encodeEventTime(t))
	errs.join("record length", enc.EncodeMapLen(4+len(fields)))
	errs.join("level", encodeMsgpackAttr(enc.Encoder, slog.String(slog.LevelKey, r.Level.String())))
	errs.join("message", encodeMsgpackAttr(enc.Encoder, slog.String(slog.MessageKey, r.Message)))
	errs.join("host", encodeMsgpackAttr(enc.Encoder, slog.String(HostKey, h.Hostname)))
	errs.join("full message", encodeMsgpackAttr(enc.Encoder, slog.String(FullMessageKey, full)))
	for _, f := range fields {
		errs.join("attr "+f.Key, encodeMsgpackAttr(enc.Encoder, f))
	}
	if errs.err != nil {
		return newError(KindEncoding, "encode fluent message", errs.err)
	}

	h.debug("sending Fluent message: %d bytes", enc.Len())
	return h.s.write(enc.Bytes())
}

func (h *Handler) debug(format string, args ...any) {
	if !h.Verbose {
		return
	}
	InternalLogger().Printf(format, args...)
}

// encErrs collects serialization errors
type encErrs struct {
	err error
}

func (e *encErrs) join(target string, err error) {
	if err == nil {
		return
	}
	e.err = errors.Join(e.err, fmt.Errorf("failed to encode %s: %w", target, err))
}

func encodeMsgpackAttr(enc *msgpack.Encoder, a slog.Attr) error {
	if err := enc.EncodeString(a.Key); err != nil {
		return err
	}
	v := a.Value
	switch v.Kind() {
	case slog.KindString:
		return enc.EncodeString(v.String())
	case slog.KindInt64:
		return enc.EncodeInt(v.Int64())
	case slog.KindUint64:
		return enc.EncodeUint(v.Uint64())
	case slog.KindFloat64:
		return enc.EncodeFloat64(v.Float64())
	case slog.KindBool:
		return enc.EncodeBool(v.Bool())
	case slog.KindDuration:
		return enc.EncodeInt(int64(v.Duration()))
	case slog.KindTime:
		return enc.EncodeString(v.Time().Format(time.RFC3339Nano))
	}
	return enc.Encode(v.Any())
}

// gelfScalar converts v into a kind the envelope can render. GELF additional
// fields are strings or numbers.
func gelfScalar(v slog.Value) slog.Value {
	switch v.Kind() {
	case slog.KindString, slog.KindInt64, slog.KindUint64:
		return v
	case slog.KindFloat64:
		if f := v.Float64(); math.IsNaN(f) || math.IsInf(f, 0) {
			return slog.StringValue(v.String())
		}
		return v
	case slog.KindBool:
		if v.Bool() {
			return slog.IntValue(1)
		}
		return slog.IntValue(0)
	case slog.KindTime:
		return slog.StringValue(v.Time().Format(time.RFC3339Nano))
	}
	return slog.StringValue(v.String())
}

// flattenAttrs appends attrs to dst with groups expanded into dotted keys,
// following the slog.Handler rules for empty attrs and groups.
func flattenAttrs(dst []slog.Attr, prefix string, attrs []slog.Attr) []slog.Attr {
	for _, a := range attrs {
		a.Value = a.Value.Resolve()
		if a.Equal(slog.Attr{}) {
			continue
		}
		if a.Value.Kind() == slog.KindGroup {
			// rule: a group's attrs are inlined when its key is empty
			dst = flattenAttrs(dst, joinKey(prefix, a.Key), a.Value.Group())
			continue
		}
		if a.Key == "" {
			continue
		}
		dst = append(dst, slog.Attr{Key: joinKey(prefix, a.Key), Value: a.Value})
	}
	return dst
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	}
	return prefix + "." + key
}

// extractFullMessage removes the last top-level full_message attr from
// fields and returns its value.
func extractFullMessage(fields []slog.Attr) (string, []slog.Attr) {
	full := ""
	out := fields[:0]
	for _, f := range fields {
		if f.Key == FullMessageKey {
			full = f.Value.String()
			continue
		}
		out = append(out, f)
	}
	return full, out
}

func findAttr(r slog.Record, key string) (slog.Value, bool) {
	var v slog.Value
	found := false
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			v, found = a.Value, true
		}
		return true
	})
	return v, found
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// sender owns the connection to the local collector. Handlers derived with
// WithAttrs and WithGroup share it.
type sender struct {
	*HandlerOptions
	addr string

	mu   sync.Mutex
	conn net.Conn
}

func (s *sender) tryConnect(ctx context.Context, maxAttempts int) error {
	s.debug("attempting to connect to %s collector at %s", s.Format, s.addr)

	b, err := backoff.New(
		backoff.WithInitialDelay(0),
		backoff.WithExponentialLimit(time.Second*5),
	)
	if err != nil {
		return err
	}

	i := 0
	for {
		i++
		err = s.connect(ctx)
		if err == nil {
			s.debug("connected to %s collector", s.Format)
			return nil
		}

		s.debug("failed to connect to %s collector on attempt %d: %v", s.Format, i, err)

		if i >= maxAttempts || ctx.Err() != nil {
			break
		}

		b.Sleep()
	}

	return newError(KindConnection, fmt.Sprintf("connect to %s after %d attempts", s.addr, i), err)
}

func (s *sender) connect(ctx context.Context) error {
	var d net.Dialer
	ctx, cancel := context.WithTimeout(ctx, s.DialTimeout)
	defer cancel()

	conn, err := d.DialContext(ctx, s.network(), s.addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s over %s: %w", s.addr, s.network(), err)
	}
	s.conn = conn
	return nil
}

// write sends each frame with its own Write, which on UDP means its own
// datagram.
func (s *sender) write(frames ...[]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return newError(KindWrite, "write to "+s.addr, net.ErrClosed)
	}
	for _, f := range frames {
		if _, err := s.conn.Write(f); err != nil {
			return newError(KindWrite, "write to "+s.addr, err)
		}
	}
	return nil
}

func (s *sender) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return newError(KindWrite, "close connection to "+s.addr, err)
	}
	return nil
}

func (s *sender) debug(format string, args ...any) {
	if !s.Verbose {
		return
	}
	InternalLogger().Printf(format, args...)
}

// syslogWriter is the Writer given to the syslog handler, which writes from
// its own goroutine. It routes writes through the sender and lets Close wait
// for the ones still in flight.
type syslogWriter struct {
	s *sender

	mu      sync.Mutex
	pending int
	idle    chan struct{}
	err     error
}

// expect announces a write that has not happened yet.
func (w *syslogWriter) expect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == 0 {
		w.idle = make(chan struct{})
	}
	w.pending++
}

func (w *syslogWriter) done(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
	if w.pending == 0 {
		return
	}
	w.pending--
	if w.pending == 0 {
		close(w.idle)
	}
}

func (w *syslogWriter) Write(p []byte) (int, error) {
	err := w.s.write(p)
	w.done(err)
	if err != nil {
		InternalLogger().Printf("failed to send syslog message: %v", err)
		return 0, err
	}
	return len(p), nil
}

func (w *syslogWriter) wait(timeout time.Duration) error {
	w.mu.Lock()
	if w.pending == 0 {
		defer w.mu.Unlock()
		return w.err
	}
	idle := w.idle
	w.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-idle:
	case <-t.C:
		w.mu.Lock()
		n := w.pending
		w.mu.Unlock()
		return newError(KindWrite, "flush syslog messages",
			fmt.Errorf("%d message(s) still pending after %s", n, timeout))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
