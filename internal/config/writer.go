package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const filePerm = 0o644

type pair struct {
	key   string
	value any
}

// pairs lists the settings in file order.
func (c Config) pairs() []pair {
	return []pair{
		{"streamAddr", c.StreamAddr},
		{"streamPort", c.StreamPort},
		{"protocol", c.Protocol},
		{"backend", c.Backend},
		{"convert", c.Convert},
		{"matrix", c.Matrix},
		{"scaleMode", c.ScaleMode},
		{"outputWidth", c.OutputWidth},
		{"outputHeight", c.OutputHeight},
		{"minSurfaces", c.MinSurfaces},
		{"asyncDepth", c.AsyncDepth},
		{"threads", c.Threads},
		{"maxBitstreamBytes", c.MaxBitstreamBytes},
		{"decodeGetPolicy", c.DecodeGetPolicy},
		{"syncTimeout", c.SyncTimeout},
		{"reconnectDelay", c.ReconnectDelay},
		{"recvBufferBytes", c.RecvBufferBytes},
		{"sink", c.Sink},
		{"sinkPath", c.SinkPath},
		{"sinkEvery", c.SinkEvery},
		{"logLevel", c.LogLevel},
		{"logFormat", c.LogFormat},
	}
}

// Write stores cfg at path, as YAML for .yaml/.yml files and as key=value
// lines otherwise, so that Load reads back the same values.
func Write(cfg *Config, path string) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	var data []byte
	switch fileType(path) {
	case "yaml":
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		data = out
	case "dotenv":
		var buf bytes.Buffer
		for _, kv := range cfg.pairs() {
			fmt.Fprintf(&buf, "%s=%v\n", kv.key, kv.value)
		}
		data = buf.Bytes()
	default:
		return fmt.Errorf("writing %s files is not supported", fileType(path))
	}

	if err := os.WriteFile(path, data, filePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
