package gelfpipe

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Format is the wire encoding the local Handler forwards with.
type Format string

const (
	// FormatGELF sends zlib-compressed GELF JSON over UDP, chunked when a
	// message does not fit one datagram.
	FormatGELF Format = "gelf"

	// FormatFluent sends Fluent forward protocol messages (msgpack) over TCP.
	FormatFluent Format = "fluent"

	// FormatSyslog sends syslog messages over UDP.
	FormatSyslog Format = "syslog"
)

// ParseFormat looks up a format by name, ignoring case. The empty name is
// gelf.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	switch f {
	case "":
		return FormatGELF, nil
	case FormatGELF, FormatFluent, FormatSyslog:
		return f, nil
	}
	return "", newError(KindConfiguration, "parse local format",
		fmt.Errorf("unknown format %q, want one of gelf|fluent|syslog", name))
}

// HandlerOptions are used to customize the local facility slog.Handler.
//
// NB: The struct pointer options approach is used to be consistent with the
// approach used in the standard library for `HandlerOptions`.
type HandlerOptions struct {

	// Level reports the minimum record level that will be logged. The handler
	// discards records with lower levels. If Level is nil, the handler assumes
	// LevelInfo.
	Level slog.Leveler

	// Host of the log collector. The default is "localhost".
	Host string

	// Port of the log collector. The default is 12201, the GELF port.
	Port int

	// Format is the wire encoding. The default is gelf.
	Format Format

	// Facility names the source of the records: the GELF facility, the
	// Fluent tag, or a facility attribute for syslog. The default is
	// DefaultFacilityPrefix.
	Facility string

	// Hostname is reported as the GELF host. The default is os.Hostname.
	Hostname string

	// ChunkSize is the largest UDP datagram sent for GELF, chunk header
	// included. The minimum is 64 bytes. The default is 1420, which fits a
	// typical Ethernet MTU.
	ChunkSize int

	// DialTimeout sets the timeout for each dial attempt. The default is 10s.
	DialTimeout time.Duration

	// CoarseTimestamps makes the fluent format send the record time as unix
	// seconds, for collectors that predate EventTime. The default is false.
	CoarseTimestamps bool

	// MaxDialTries limits the number of attempts to reach the collector when
	// the handler is created. The default is 3.
	MaxDialTries int

	// Verbose controls whether debug logs are written to the internal logger.
	Verbose bool
}

const (
	defaultLocalHost      = "localhost"
	defaultLocalPort      = 12201
	defaultGELFChunkSize  = 1420
	minGELFChunkSize      = 64
	defaultLocalDialTime  = time.Second * 10
	defaultLocalDialTries = 3
)

// DefaultHandlerOptions returns *HandlerOptions with all default values.
func DefaultHandlerOptions() *HandlerOptions {
	o := &HandlerOptions{}
	o.resolve()
	return o
}

// resolve ensures that all options have valid values.
func (o *HandlerOptions) resolve() {

	// set default log level if not provided
	if o.Level == nil {
		o.Level = slog.LevelInfo
	}

	if o.Host == "" {
		o.Host = defaultLocalHost
	}

	// constrain to valid range
	if o.Port < 1 || o.Port > 65535 {
		o.Port = defaultLocalPort
	}

	if f, err := ParseFormat(string(o.Format)); err != nil {
		o.Format = FormatGELF
	} else {
		o.Format = f
	}

	if o.Facility == "" {
		o.Facility = DefaultFacilityPrefix
	}

	if o.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			o.Hostname = h
		} else {
			o.Hostname = "localhost"
		}
	}

	if o.ChunkSize == 0 {
		o.ChunkSize = defaultGELFChunkSize
	}
	o.ChunkSize = max(o.ChunkSize, minGELFChunkSize)

	// must be positive
	if o.DialTimeout < 1 {
		o.DialTimeout = defaultLocalDialTime
	}

	// must be positive
	if o.MaxDialTries < 1 {
		o.MaxDialTries = defaultLocalDialTries
	}
}

// network returns the transport protocol used by the format.
func (o *HandlerOptions) network() string {
	if o.Format == FormatFluent {
		return "tcp"
	}
	return "udp"
}
