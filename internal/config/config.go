// Package config loads optional defaults for the client and server
// commands from a file.
//
// Two formats are accepted, chosen by file extension:
//   - .yaml / .yml: parsed with gopkg.in/yaml.v3
//   - .json / .jsonc: JSON with comments, normalized with github.com/tidwall/jsonc
//
// Unknown keys are rejected so that a typo does not silently fall back to a
// default. Values from the file only fill in flags the user did not set on
// the command line; that merge happens in the cli package.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultToken is used by both sides when no token is configured.
	DefaultToken = "udp-portcheck"

	// DefaultTimeoutMS is the per-probe timeout in milliseconds.
	DefaultTimeoutMS = 1000

	// DefaultMaxTask is the default admission capacity. Beyond roughly 200
	// concurrent sockets the throughput gain on Linux is small.
	DefaultMaxTask = 300

	// DefaultServerIP listens on all IPv4 interfaces.
	DefaultServerIP = "0.0.0.0"
)

// File is the top-level structure of a config file.
type File struct {
	Client ClientConfig `yaml:"client" json:"client"`
	Server ServerConfig `yaml:"server" json:"server"`
}

// ClientConfig holds defaults for the client command.
type ClientConfig struct {
	IP        string `yaml:"ip" json:"ip"`
	FromPort  int    `yaml:"from_port" json:"from_port"`
	ToPort    int    `yaml:"to_port" json:"to_port"`
	Token     string `yaml:"token" json:"token"`
	TimeoutMS int    `yaml:"timeout_ms" json:"timeout_ms"`
	MaxTask   int    `yaml:"max_task" json:"max_task"`
	AcceptAny bool   `yaml:"accept_any" json:"accept_any"`
}

// ServerConfig holds defaults for the server command.
type ServerConfig struct {
	IP     string `yaml:"ip" json:"ip"`
	Port   int    `yaml:"port" json:"port"`
	ToPort int    `yaml:"to_port" json:"to_port"`
	Token  string `yaml:"token" json:"token"`
}

// Default returns the built-in defaults.
func Default() *File {
	return &File{
		Client: ClientConfig{
			Token:     DefaultToken,
			TimeoutMS: DefaultTimeoutMS,
			MaxTask:   DefaultMaxTask,
		},
		Server: ServerConfig{
			IP:    DefaultServerIP,
			Token: DefaultToken,
		},
	}
}

// Load reads path and overlays it on Default(). Keys absent from the file
// keep their default values.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = decodeYAML(data, cfg)
	case ".json", ".jsonc":
		err = decodeJSONC(data, cfg)
	default:
		return nil, fmt.Errorf("config %s: unsupported extension %q (valid: .yaml, .yml, .json, .jsonc)", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *File) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		// An empty file decodes to io.EOF; defaults stand.
		if strings.TrimSpace(string(data)) == "" {
			return nil
		}
		return err
	}
	return nil
}

func decodeJSONC(data []byte, cfg *File) error {
	// jsonc.ToJSON strips comments and trailing commas so that the
	// standard decoder can read the result.
	clean := jsonc.ToJSON(data)
	if len(bytes.TrimSpace(clean)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(clean))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}
