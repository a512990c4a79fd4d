/*
File Name:  Config.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	_ "embed"
	"io"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed config_default.yaml
var configDefaultYaml []byte

// Config holds all user-tunable parameters for a node. Unset fields fall back to the embedded
// defaults when loading from disk.
type Config struct {
	Nickname string `yaml:"Nickname"`

	// KeyStorePath is the Pogreb database file holding the node's two private keys.
	KeyStorePath string `yaml:"KeyStorePath"`

	// LogFile, if set, redirects the standard logger's output to this file instead of stderr.
	LogFile string `yaml:"LogFile"`

	AnnounceInterval time.Duration `yaml:"AnnounceInterval"`
	DedupWindow      time.Duration `yaml:"DedupWindow"`
	TransferTTL      time.Duration `yaml:"TransferTTL"`
	DefaultPacketTTL uint8         `yaml:"DefaultPacketTTL"`

	// ControlAPIListen, if non-empty, starts the debug HTTP/WebSocket control surface on this
	// address (for example "127.0.0.1:8080").
	ControlAPIListen string `yaml:"ControlAPIListen"`
}

// DefaultConfig returns the configuration embedded in the binary at build time.
func DefaultConfig() (cfg Config, err error) {
	if err := yaml.Unmarshal(configDefaultYaml, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML config file, applying embedded defaults for any field left absent.
func LoadConfig(path string) (cfg Config, err error) {
	cfg, err = DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	} else if err != nil {
		return Config{}, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// SetupLogging redirects the standard logger to Config.LogFile if set, returning a closer the
// caller must invoke on shutdown.
func (cfg Config) SetupLogging() (io.Closer, error) {
	if cfg.LogFile == "" {
		return noopCloser{}, nil
	}

	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	log.SetOutput(file)
	return file, nil
}
