package gelfpipe

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/valyala/fastjson"
)

func testRecord() Record {
	info, _ := ParseLevel("info")
	return NewRecord("h", "m", time.Unix(1, 0), info, "f")
}

const testEnvelope = `{"version":"1.0","host":"h","short_message":"m","timestamp":1.0,"level":6,"facility":"f","file":"","line":0,"full_message":"he said \"hi\"\n"}`

func TestEncode_Envelope(t *testing.T) {
	var buf bytes.Buffer
	n, err := NewEnvelopeEncoder(nil).Encode(&buf, testRecord().Metadata(), strings.NewReader("he said \"hi\"\n"))
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	if n != 13 {
		t.Errorf("expected 13 body bytes, got: %d", n)
	}
	if got := buf.String(); got != testEnvelope {
		t.Fatalf("failed:\nexpected: %s\ngot:      %s", testEnvelope, got)
	}
}

func TestEncode_ThroughGzipSink(t *testing.T) {
	var wire bytes.Buffer
	sink, err := NewCompressingSink(&wire, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewEnvelopeEncoder(nil).Encode(sink, testRecord().Metadata(), strings.NewReader("he said \"hi\"\n")); err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("failed to close the sink: %v", err)
	}

	zr, err := gzip.NewReader(&wire)
	if err != nil {
		t.Fatalf("output is not gzip: %v", err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("failed to decompress: %v", err)
	}
	if string(plain) != testEnvelope {
		t.Fatalf("failed:\nexpected: %s\ngot:      %s", testEnvelope, plain)
	}
}

func TestEncode_FieldOrder(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewEnvelopeEncoder(nil).Encode(&buf, testRecord().Metadata(), strings.NewReader("body")); err != nil {
		t.Fatal(err)
	}

	var p fastjson.Parser
	v, err := p.ParseBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}
	obj, err := v.Object()
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	obj.Visit(func(k []byte, _ *fastjson.Value) {
		keys = append(keys, string(k))
	})
	expect := []string{
		VersionKey, HostKey, ShortMessageKey, TimestampKey, LevelKey,
		FacilityKey, FileKey, LineKey, FullMessageKey,
	}
	if strings.Join(keys, ",") != strings.Join(expect, ",") {
		t.Fatalf("failed, expected order: %v, got: %v", expect, keys)
	}
	if v.GetInt(LevelKey) != 6 {
		t.Errorf("expected level 6, got: %s", v.Get(LevelKey))
	}
	if v.Get(TimestampKey).Type() != fastjson.TypeNumber {
		t.Errorf("expected a numeric timestamp, got: %s", v.Get(TimestampKey))
	}
}

func TestEncode_PlainBody(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewEnvelopeEncoder(nil).Encode(&buf, nil, strings.NewReader("a \"b\"\n")); err != nil {
		t.Fatal(err)
	}
	if expect := `a \"b\"\n`; buf.String() != expect {
		t.Fatalf("failed, expected: %s, got: %s", expect, buf.String())
	}
}

func TestEncode_EmptyBody(t *testing.T) {
	meta := Metadata{slog.String("k", "v")}
	for _, body := range []io.Reader{nil, strings.NewReader("")} {
		var buf bytes.Buffer
		n, err := NewEnvelopeEncoder(nil).Encode(&buf, meta, body)
		if err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("expected no body bytes, got: %d", n)
		}
		if expect := `{"k":"v","full_message":""}`; buf.String() != expect {
			t.Fatalf("failed, expected: %s, got: %s", expect, buf.String())
		}
	}
}

func TestEncode_EmptyMetadata(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewEnvelopeEncoder(nil).Encode(&buf, Metadata{}, strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	if expect := `{"full_message":"x"}`; buf.String() != expect {
		t.Fatalf("failed, expected: %s, got: %s", expect, buf.String())
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	body := strings.Repeat("line with \"quotes\", tabs\t, \\ and ünïcödé 🚀\n", 5000)
	meta := Metadata{
		slog.String("host", "web-1"),
		slog.Int("count", -3),
		slog.Float64("ratio", 0.25),
		slog.Bool("ok", true),
	}

	var buf bytes.Buffer
	enc := NewEnvelopeEncoder(&EnvelopeOptions{ChunkSize: 100})
	if _, err := enc.Encode(&buf, meta, iotest.HalfReader(strings.NewReader(body))); err != nil {
		t.Fatal(err)
	}

	v, err := fastjson.ParseBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}
	if got := string(v.GetStringBytes(FullMessageKey)); got != body {
		t.Fatalf("full_message changed in transit (%d bytes in, %d bytes out)", len(body), len(got))
	}
	if got := string(v.GetStringBytes("host")); got != "web-1" {
		t.Errorf("expected host web-1, got: %s", got)
	}
	if got := v.GetInt("count"); got != -3 {
		t.Errorf("expected count -3, got: %d", got)
	}
	if got := v.GetFloat64("ratio"); got != 0.25 {
		t.Errorf("expected ratio 0.25, got: %v", got)
	}
	if !v.GetBool("ok") {
		t.Errorf("expected ok true")
	}
}

func TestEncode_ChunkingIsInvisible(t *testing.T) {
	body := strings.Repeat("€ \"x\"\n\xff", 300)

	var expect bytes.Buffer
	if _, err := NewEnvelopeEncoder(nil).Encode(&expect, testRecord().Metadata(), strings.NewReader(body)); err != nil {
		t.Fatal(err)
	}

	readers := map[string]io.Reader{
		"one byte": iotest.OneByteReader(strings.NewReader(body)),
		"half":     iotest.HalfReader(strings.NewReader(body)),
		"data+eof": iotest.DataErrReader(strings.NewReader(body)),
	}
	for name, r := range readers {
		t.Run(name, func(t *testing.T) {
			var got bytes.Buffer
			enc := NewEnvelopeEncoder(&EnvelopeOptions{ChunkSize: 64})
			if _, err := enc.Encode(&got, testRecord().Metadata(), r); err != nil {
				t.Fatal(err)
			}
			if got.String() != expect.String() {
				t.Fatalf("output depends on chunking")
			}
		})
	}
}

func TestEncode_ReadError(t *testing.T) {
	cause := errors.New("disk on fire")
	var buf bytes.Buffer
	_, err := NewEnvelopeEncoder(nil).Encode(&buf, testRecord().Metadata(), iotest.ErrReader(cause))
	if !errors.Is(err, ErrRead) {
		t.Fatalf("expected a ReadError, got: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected the cause to be wrapped, got: %v", err)
	}
}

func TestEncode_WriteError(t *testing.T) {
	cause := errors.New("broken pipe")
	_, err := NewEnvelopeEncoder(nil).Encode(failingWriter{cause}, testRecord().Metadata(), strings.NewReader("x"))
	if !errors.Is(err, ErrWrite) || !errors.Is(err, cause) {
		t.Fatalf("expected a WriteError wrapping the cause, got: %v", err)
	}
}

func TestEncode_UnrepresentableMetadata(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
	}{
		{"NaN", slog.Float64("x", math.NaN())},
		{"Inf", slog.Float64("x", math.Inf(1))},
		{"time", slog.Time("x", time.Now())},
	}
	for i := 0; i < len(tests); i++ {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := NewEnvelopeEncoder(nil).Encode(&buf, Metadata{tt.attr}, strings.NewReader("x"))
			if !errors.Is(err, ErrEncoding) {
				t.Fatalf("expected an EncodingError, got: %v", err)
			}
			if buf.Len() != 0 {
				t.Fatalf("expected nothing to be written, got: %q", buf.String())
			}
		})
	}
}

func TestEncode_StrictUTF8(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEnvelopeEncoder(&EnvelopeOptions{StrictUTF8: true})
	_, err := enc.Encode(&buf, nil, strings.NewReader("ok\xffno"))
	if !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected an EncodingError, got: %v", err)
	}
}

func TestEnvelopeOptions_Resolve(t *testing.T) {
	tests := []struct {
		name   string
		input  int
		expect int
	}{
		{"unset", 0, defaultChunkSize},
		{"negative", -1, minChunkSize},
		{"too small", 1, minChunkSize},
		{"valid", 4096, 4096},
	}
	for i := 0; i < len(tests); i++ {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			opts := &EnvelopeOptions{ChunkSize: tt.input}
			opts.resolve()
			if opts.ChunkSize != tt.expect {
				t.Errorf("failed: %s, expected: %d, got: %d", tt.name, tt.expect, opts.ChunkSize)
			}
		})
	}
}
