package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/bitdabbler/gelfpipe"
)

// stdio bundles the process streams so tests can replace them. In is nil
// when standard input is not open.
type stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// run performs one invocation: it resolves the configuration, builds the
// record and delivers it over exactly one transport.
func run(ctx context.Context, args []string, getenv func(string) string, sio stdio) error {
	cfg, words, err := LoadConfig(ctx, args, getenv)
	if err != nil {
		return err
	}
	if cfg.Verbose {
		log.Printf("resolved configuration:\n%s", spew.Sdump(cfg))
	}

	level, err := gelfpipe.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	codec, err := gelfpipe.ParseCodec(cfg.Codec)
	if err != nil {
		return err
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	facility := gelfpipe.FacilityName(gelfpipe.DeriveFacilityPrefix(getenv("HOME")), cfg.Facility)
	rec := gelfpipe.NewRecord(hostname, strings.Join(words, " "), time.Now(), level, facility)

	switch {
	case cfg.TCP != "":
		err = sendTCP(ctx, cfg, codec, rec, sio)
	case cfg.HTTP != "":
		err = sendHTTP(ctx, cfg, codec, rec, sio)
	default:
		err = sendLocal(ctx, cfg, rec, sio)
	}

	if cfg.PushGateway != "" {
		if perr := gelfpipe.PushMetrics(ctx, cfg.PushGateway, "gelfpipe", hostname); perr != nil {
			log.Printf("warning: %v", perr)
		}
	}
	return err
}

func clientOptions(cfg *Config, codec gelfpipe.Codec, stderr io.Writer) *gelfpipe.ClientOptions {
	opts := &gelfpipe.ClientOptions{
		Network:            "tcp",
		DialTimeout:        cfg.DialTimeout,
		WriteTimeout:       cfg.WriteTimeout,
		InsecureSkipVerify: cfg.Insecure,
		Envelope: &gelfpipe.EnvelopeOptions{
			ChunkSize:  cfg.ChunkSize,
			StrictUTF8: cfg.StrictUTF8,
		},
		Sink: &gelfpipe.SinkOptions{
			Codec: codec,
			Level: cfg.CompressLevel,
		},
		Verbose: cfg.Verbose,
	}
	if cfg.TLS {
		opts.Network = "tls"
	}
	if cfg.Verbose {
		opts.Sink.Mirror = stderr
	}
	return opts
}

func sendTCP(ctx context.Context, cfg *Config, codec gelfpipe.Codec, rec gelfpipe.Record, sio stdio) error {
	c, err := gelfpipe.NewClient(cfg.TCP, clientOptions(cfg, codec, sio.Err))
	if err != nil {
		return err
	}
	return c.Send(ctx, rec.Metadata(), sio.In)
}

func sendHTTP(ctx context.Context, cfg *Config, codec gelfpipe.Codec, rec gelfpipe.Record, sio stdio) error {
	c, err := gelfpipe.NewHTTPClient(cfg.HTTP, clientOptions(cfg, codec, sio.Err))
	if err != nil {
		return err
	}
	return c.Send(ctx, rec.Metadata(), sio.In, sio.Out)
}

// sendLocal hands the metadata and the raw, unescaped body to the local
// facility handler, which encodes it its own way.
func sendLocal(ctx context.Context, cfg *Config, rec gelfpipe.Record, sio stdio) error {
	format, err := gelfpipe.ParseFormat(cfg.Local)
	if err != nil {
		return err
	}

	var full []byte
	if sio.In != nil {
		if full, err = io.ReadAll(sio.In); err != nil {
			return &gelfpipe.Error{Kind: gelfpipe.KindRead, Op: "read message body", Err: err}
		}
	}

	// more verbose levels lower the threshold; others log at info and above
	threshold := min(rec.Level.Slog, slog.LevelInfo)

	h, err := gelfpipe.NewHandler(ctx, &gelfpipe.HandlerOptions{
		Level:       threshold,
		Host:        cfg.Host,
		Port:        cfg.Port,
		Format:      format,
		Facility:    rec.Facility,
		Hostname:    rec.Host,
		DialTimeout: cfg.DialTimeout,
		Verbose:     cfg.Verbose,
	})
	if err != nil {
		return err
	}

	r := slog.NewRecord(rec.Time, rec.Level.Slog, rec.ShortMessage, 0)
	r.AddAttrs(slog.String(gelfpipe.FullMessageKey, string(full)))
	if cfg.Verbose {
		log.Printf("calling %s handler at level %s with %d body bytes", format, rec.Level.Name, len(full))
	}

	if h.Enabled(ctx, r.Level) {
		err = h.Handle(ctx, r)
	}
	if cerr := h.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("local %s delivery failed: %w", format, err)
	}
	return nil
}
