// Package config loads the YAML configuration governing the wire
// protocol's frame caps and KDF iteration count, with an embedded default
// used when no config file is present yet.
package config

import (
	_ "embed" // required for embedding the default config file
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dspfs/dspfs/session"
)

//go:embed default.yaml
var defaultConfig []byte

// Config is the on-disk shape of the configuration file; its fields map
// directly onto session.Config.
type Config struct {
	HandshakeFrameCap uint64 `yaml:"HandshakeFrameCap"`
	MessageFrameCap   uint64 `yaml:"MessageFrameCap"`
	PBKDF2Iterations  int    `yaml:"PBKDF2Iterations"`
}

// ToSessionConfig converts the loaded config into the session package's
// runtime type.
func (c Config) ToSessionConfig() session.Config {
	return session.Config{
		HandshakeFrameCap: c.HandshakeFrameCap,
		MessageFrameCap:   c.MessageFrameCap,
		PBKDF2Iterations:  c.PBKDF2Iterations,
	}
}

// Dir returns the global store's config directory: DSPFS_CONFIG_DIR if
// set, otherwise $XDG_CONFIG_HOME/dspfs (falling back to ~/.config/dspfs).
func Dir() (string, error) {
	if dir := os.Getenv("DSPFS_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dspfs"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "dspfs"), nil
}

// Load reads the YAML config file at path. If the file does not exist or
// is empty, the embedded default is used instead (and is not written back
// automatically — callers that want a persisted copy do so explicitly).
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			data = defaultConfig
		} else {
			return Config{}, err
		}
	} else if len(data) == 0 {
		data = defaultConfig
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg as YAML to path.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
