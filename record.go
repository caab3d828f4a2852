package gelfpipe

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

// GELFVersion is the version field written into every envelope.
const GELFVersion = "1.0"

// GELF field names.
const (
	VersionKey      = "version"
	HostKey         = "host"
	ShortMessageKey = "short_message"
	TimestampKey    = "timestamp"
	LevelKey        = "level"
	FacilityKey     = "facility"
	FileKey         = "file"
	LineKey         = "line"
	FullMessageKey  = "full_message"
)

// Metadata is the ordered list of envelope fields that precede full_message.
// The slice order is the wire order. A nil Metadata selects the plain-body
// mode of the EnvelopeEncoder.
type Metadata []slog.Attr

// Record holds everything known about one invocation except the body, which
// is streamed separately. It is built once and not modified afterwards.
type Record struct {
	Host         string
	ShortMessage string
	Time         time.Time
	Level        Level
	Facility     string
}

// NewRecord builds a Record captured at t.
func NewRecord(host, shortMessage string, t time.Time, level Level, facility string) Record {
	return Record{
		Host:         host,
		ShortMessage: shortMessage,
		Time:         t,
		Level:        level,
		Facility:     facility,
	}
}

// Timestamp returns the capture time as float seconds since the epoch,
// truncated to microseconds.
func (r Record) Timestamp() float64 {
	return epochSeconds(r.Time)
}

// Metadata returns the envelope fields in wire order. file and line are
// reserved and always empty.
func (r Record) Metadata() Metadata {
	return Metadata{
		slog.String(VersionKey, GELFVersion),
		slog.String(HostKey, r.Host),
		slog.String(ShortMessageKey, r.ShortMessage),
		slog.Float64(TimestampKey, r.Timestamp()),
		slog.Int(LevelKey, r.Level.Severity),
		slog.String(FacilityKey, r.Facility),
		slog.String(FileKey, ""),
		slog.Int(LineKey, 0),
	}
}

// appendJSONValue renders v as a JSON literal: strings quoted and escaped,
// numbers and booleans bare.
func appendJSONValue(dst []byte, v slog.Value) ([]byte, error) {
	switch v.Kind() {
	case slog.KindString:
		return AppendQuoted(dst, v.String()), nil
	case slog.KindInt64:
		return strconv.AppendInt(dst, v.Int64(), 10), nil
	case slog.KindUint64:
		return strconv.AppendUint(dst, v.Uint64(), 10), nil
	case slog.KindFloat64:
		return appendFloat(dst, v.Float64())
	case slog.KindBool:
		return strconv.AppendBool(dst, v.Bool()), nil
	}
	return dst, fmt.Errorf("unsupported value kind %s", v.Kind())
}

// appendFloat always writes a fractional part, so that whole seconds stay
// recognizably decimal ("1.0", not "1").
func appendFloat(dst []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return dst, fmt.Errorf("%v is not representable in JSON", f)
	}
	start := len(dst)
	dst = strconv.AppendFloat(dst, f, 'f', -1, 64)
	for _, c := range dst[start:] {
		if c == '.' {
			return dst, nil
		}
	}
	return append(dst, '.', '0'), nil
}

// queryValue renders v the way it appears in a URL query string.
func queryValue(v slog.Value) string {
	if v.Kind() == slog.KindString {
		return v.String()
	}
	b, err := appendJSONValue(nil, v)
	if err != nil {
		return v.String()
	}
	return string(b)
}

const (
	// DefaultFacilityPrefix is used when the home directory does not yield
	// a prefix.
	DefaultFacilityPrefix = "gelfpipe"

	homeRoot = "/home/"
)

// DeriveFacilityPrefix turns a home directory such as /home/acme/billing
// into the facility prefix "acme.billing". Directories directly under
// /home/, or outside of it, give DefaultFacilityPrefix.
func DeriveFacilityPrefix(homeDir string) string {
	if !strings.HasPrefix(homeDir, homeRoot) {
		return DefaultFacilityPrefix
	}
	rest := strings.TrimRight(homeDir[len(homeRoot):], "/")
	if !strings.Contains(rest, "/") {
		return DefaultFacilityPrefix
	}
	return strings.ReplaceAll(rest, "/", ".")
}

// FacilityName joins the prefix and an optional suffix with a dot.
func FacilityName(prefix, suffix string) string {
	if suffix == "" {
		return prefix
	}
	return prefix + "." + suffix
}
