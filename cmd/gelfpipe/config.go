package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/heetch/confita"
	"github.com/heetch/confita/backend"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bitdabbler/gelfpipe"
)

// configEnvVar names the variable holding the config file path when --config
// is not given.
const configEnvVar = "GELFPIPE_CONFIG"

// Config holds every option, after defaults, the config file, the
// environment (GELFPIPE_*, read through the getenv given to LoadConfig) and
// the command line have been applied, in that order.
type Config struct {
	Verbose bool `yaml:"verbose" config:"gelfpipe_verbose"`

	// local facility destination
	Host  string `yaml:"host" config:"gelfpipe_host" default:"localhost"`
	Port  int    `yaml:"port" config:"gelfpipe_port" default:"12201"`
	Local string `yaml:"local" config:"gelfpipe_local" default:"gelf"`

	Level    string `yaml:"level" config:"gelfpipe_level" default:"info"`
	Facility string `yaml:"facility" config:"gelfpipe_facility"`

	// remote destinations; tcp wins when both are set
	TCP  string `yaml:"tcp" config:"gelfpipe_tcp"`
	HTTP string `yaml:"http" config:"gelfpipe_http"`

	Codec         string `yaml:"codec" config:"gelfpipe_codec" default:"gzip"`
	CompressLevel int    `yaml:"compress_level" config:"gelfpipe_compress_level" default:"2"`
	ChunkSize     int    `yaml:"chunk_size" config:"gelfpipe_chunk_size" default:"65536"`
	StrictUTF8    bool   `yaml:"strict_utf8" config:"gelfpipe_strict_utf8"`

	TLS          bool          `yaml:"tls" config:"gelfpipe_tls"`
	Insecure     bool          `yaml:"insecure" config:"gelfpipe_insecure"`
	DialTimeout  time.Duration `yaml:"dial_timeout" config:"gelfpipe_dial_timeout" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" config:"gelfpipe_write_timeout"`

	PushGateway string `yaml:"push_gateway" config:"gelfpipe_push_gateway"`
}

// LoadConfig builds the Config for args (without the program name) and
// returns it with the positional arguments.
func LoadConfig(ctx context.Context, args []string, getenv func(string) string) (*Config, []string, error) {
	cfg := new(Config)
	if err := defaults.Set(cfg); err != nil {
		return nil, nil, configError("apply defaults", err)
	}

	path := configPath(args, getenv)
	if path != "" {
		if err := loadConfigFile(path, cfg); err != nil {
			return nil, nil, err
		}
	}

	if err := confita.NewLoader(envBackend(getenv)).Load(ctx, cfg); err != nil {
		return nil, nil, configError("load environment", err)
	}

	fs := newFlagSet(cfg, path)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, nil, err
		}
		return nil, nil, configError("parse command line", err)
	}
	return cfg, fs.Args(), nil
}

// configPath finds --config in args ahead of the real parse, so that the
// file can be loaded underneath the flags.
func configPath(args []string, getenv func(string) string) string {
	pre := pflag.NewFlagSet("config", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetOutput(io.Discard)
	pre.Usage = func() {}
	path := pre.String("config", "", "")
	_ = pre.Parse(args)
	if *path != "" {
		return *path
	}
	return getenv(configEnvVar)
}

// envBackend looks config keys up through getenv, upper-cased
// (gelfpipe_port is read from GELFPIPE_PORT). An empty value counts as unset.
func envBackend(getenv func(string) string) backend.Backend {
	return backend.Func("env", func(_ context.Context, key string) ([]byte, error) {
		v := getenv(strings.ToUpper(strings.ReplaceAll(key, "-", "_")))
		if v == "" {
			return nil, backend.ErrNotFound
		}
		return []byte(v), nil
	})
}

func loadConfigFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return configError("open config file", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return configError(fmt.Sprintf("parse config file %s", path), err)
	}
	return nil
}

func newFlagSet(cfg *Config, path string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("gelfpipe", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: gelfpipe [flags] short message words... < full message\n\n")
		fs.PrintDefaults()
	}

	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "trace the pipeline and echo the escaped body to stderr")
	fs.StringVarP(&cfg.Host, "host", "H", cfg.Host, "local facility collector host")
	fs.IntVarP(&cfg.Port, "port", "P", cfg.Port, "local facility collector port")
	fs.StringVar(&cfg.Local, "local", cfg.Local, "local facility format: gelf|fluent|syslog")
	fs.StringVarP(&cfg.Level, "level", "L", cfg.Level, "level: critical|error|warning|info|debug")
	fs.StringVarP(&cfg.Facility, "facility", "F", cfg.Facility, "facility suffix")
	fs.StringVar(&cfg.TCP, "tcp", cfg.TCP, "send to a GELF TCP collector at host:port")
	fs.StringVar(&cfg.HTTP, "http", cfg.HTTP, "send to a GELF HTTP collector at this URL")
	fs.StringVar(&cfg.Codec, "codec", cfg.Codec, "compression: gzip|zlib|zstd|snappy")
	fs.IntVar(&cfg.CompressLevel, "compress-level", cfg.CompressLevel, "compression level (1-9)")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "bytes read from stdin at a time")
	fs.BoolVar(&cfg.StrictUTF8, "strict-utf8", cfg.StrictUTF8, "fail on invalid UTF-8 instead of replacing it")
	fs.BoolVar(&cfg.TLS, "tls", cfg.TLS, "use TLS for --tcp")
	fs.BoolVar(&cfg.Insecure, "insecure", cfg.Insecure, "skip TLS certificate verification")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "timeout for connecting")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "deadline for each write to --tcp (0 means none)")
	fs.StringVar(&cfg.PushGateway, "push-gateway", cfg.PushGateway, "push metrics to this Prometheus Pushgateway URL")
	fs.String("config", path, "YAML config file (also "+configEnvVar+")")
	return fs
}

func configError(op string, err error) error {
	return &gelfpipe.Error{Kind: gelfpipe.KindConfiguration, Op: op, Err: err}
}
