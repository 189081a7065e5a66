// Package config loads receiver settings from property.ini style files,
// YAML or TOML files and STREAMDEC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/thesyncim/streamdec"
)

// DefaultFile is the settings file read when none is given.
const DefaultFile = "property.ini"

// EnvPrefix prefixes every environment override, e.g. STREAMDEC_STREAMPORT.
const EnvPrefix = "STREAMDEC"

// Config holds every receiver setting. Keys keep the camelCase names of the
// property.ini format.
type Config struct {
	StreamAddr string `mapstructure:"streamAddr" yaml:"streamAddr"`
	StreamPort int    `mapstructure:"streamPort" yaml:"streamPort"`
	Protocol   string `mapstructure:"protocol" yaml:"protocol"` // tcp, rtp, rtmp

	Backend           string        `mapstructure:"backend" yaml:"backend"`
	Convert           string        `mapstructure:"convert" yaml:"convert"`
	Matrix            string        `mapstructure:"matrix" yaml:"matrix"`
	ScaleMode         string        `mapstructure:"scaleMode" yaml:"scaleMode"`
	OutputWidth       int           `mapstructure:"outputWidth" yaml:"outputWidth"`
	OutputHeight      int           `mapstructure:"outputHeight" yaml:"outputHeight"`
	MinSurfaces       int           `mapstructure:"minSurfaces" yaml:"minSurfaces"`
	AsyncDepth        int           `mapstructure:"asyncDepth" yaml:"asyncDepth"`
	Threads           int           `mapstructure:"threads" yaml:"threads"`
	MaxBitstreamBytes int           `mapstructure:"maxBitstreamBytes" yaml:"maxBitstreamBytes"`
	DecodeGetPolicy   string        `mapstructure:"decodeGetPolicy" yaml:"decodeGetPolicy"`
	SyncTimeout       time.Duration `mapstructure:"syncTimeout" yaml:"syncTimeout"`

	ReconnectDelay  time.Duration `mapstructure:"reconnectDelay" yaml:"reconnectDelay"`
	RecvBufferBytes int           `mapstructure:"recvBufferBytes" yaml:"recvBufferBytes"`

	Sink      string `mapstructure:"sink" yaml:"sink"` // null, raw, png
	SinkPath  string `mapstructure:"sinkPath" yaml:"sinkPath"`
	SinkEvery int    `mapstructure:"sinkEvery" yaml:"sinkEvery"`

	LogLevel  string `mapstructure:"logLevel" yaml:"logLevel"`
	LogFormat string `mapstructure:"logFormat" yaml:"logFormat"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		StreamAddr:        "127.0.0.1",
		StreamPort:        9000,
		Protocol:          "tcp",
		Backend:           "auto",
		Convert:           "bgr24",
		Matrix:            "bt601",
		ScaleMode:         "fit",
		AsyncDepth:        4,
		MaxBitstreamBytes: streamdec.DefaultMaxBitstreamBytes,
		DecodeGetPolicy:   "return",
		SyncTimeout:       time.Second,
		ReconnectDelay:    2 * time.Second,
		RecvBufferBytes:   100 * 1024 * 1024,
		Sink:              "null",
		SinkEvery:         30,
		LogLevel:          "info",
		LogFormat:         "auto",
	}
}

// Load reads path (DefaultFile when empty) and applies environment overrides
// on top of the defaults. A missing file is not an error. Files ending in
// .yaml, .yml or .toml are read in that format, everything else as
// key=value lines.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFile
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetConfigFile(path)
	v.SetConfigType(fileType(path))
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	for _, kv := range Default().pairs() {
		v.SetDefault(kv.key, kv.value)
	}
}

func fileType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		// property.ini is flat key=value without sections.
		return "dotenv"
	}
}

// Addr returns the stream endpoint as host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.StreamAddr, strconv.Itoa(c.StreamPort))
}

// Validate checks that every setting can be used.
func (c *Config) Validate() error {
	var errs []error
	if c.StreamPort <= 0 || c.StreamPort > 65535 {
		errs = append(errs, fmt.Errorf("streamPort %d out of range", c.StreamPort))
	}
	switch c.Protocol {
	case "tcp", "rtp", "rtmp":
	default:
		errs = append(errs, fmt.Errorf("unknown protocol %q", c.Protocol))
	}
	if _, ok := streamdec.ParseProvider(c.Backend); !ok {
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if _, ok := streamdec.ParseConvertOption(c.Convert); !ok {
		errs = append(errs, fmt.Errorf("unknown conversion %q", c.Convert))
	}
	if _, err := streamdec.ParseYCbCrMatrix(c.Matrix); err != nil {
		errs = append(errs, err)
	}
	if _, ok := streamdec.ParseScaleMode(c.ScaleMode); !ok {
		errs = append(errs, fmt.Errorf("unknown scale mode %q", c.ScaleMode))
	}
	if _, ok := streamdec.ParseDecodeGetPolicy(c.DecodeGetPolicy); !ok {
		errs = append(errs, fmt.Errorf("unknown decode-get policy %q", c.DecodeGetPolicy))
	}
	if c.OutputWidth < 0 || c.OutputHeight < 0 || (c.OutputWidth == 0) != (c.OutputHeight == 0) {
		errs = append(errs, fmt.Errorf("output size %dx%d: set both or neither", c.OutputWidth, c.OutputHeight))
	}
	if c.MaxBitstreamBytes < 0 || c.RecvBufferBytes < 0 || c.MinSurfaces < 0 {
		errs = append(errs, errors.New("sizes must not be negative"))
	}
	switch c.Sink {
	case "null", "raw", "png":
	default:
		errs = append(errs, fmt.Errorf("unknown sink %q", c.Sink))
	}
	return errors.Join(errs...)
}

// ConvertOption returns the configured output layout.
func (c *Config) ConvertOption() streamdec.ConvertOption {
	o, _ := streamdec.ParseConvertOption(c.Convert)
	return o
}

// DecoderConfig builds the decoder settings. Call Validate first; invalid
// names fall back to their defaults.
func (c *Config) DecoderConfig() streamdec.Config {
	dc := streamdec.DefaultConfig()
	dc.Provider, _ = streamdec.ParseProvider(c.Backend)
	dc.Matrix, _ = streamdec.ParseYCbCrMatrix(c.Matrix)
	dc.ScaleMode, _ = streamdec.ParseScaleMode(c.ScaleMode)
	dc.DecodeGetPolicy, _ = streamdec.ParseDecodeGetPolicy(c.DecodeGetPolicy)
	dc.MinSurfaces = c.MinSurfaces
	dc.AsyncDepth = c.AsyncDepth
	dc.Threads = c.Threads
	dc.MaxBitstreamBytes = c.MaxBitstreamBytes
	dc.SyncTimeout = c.SyncTimeout
	return dc
}
