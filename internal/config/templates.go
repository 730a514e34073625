package config

import (
	"fmt"
	"os"
	"strings"

	pelletier "github.com/pelletier/go-toml/v2"
)

const (
	KindNode = "node"
	KindPeer = "peer"
)

// Template renders the default config for kind as TOML.
func Template(kind string) (string, error) {
	var v any
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindNode:
		v = DefaultNodeConfig()
	case KindPeer:
		v = DefaultPeerConfig()
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	b, err := pelletier.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return string(b), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as kind.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindNode:
		_, err := LoadNodeConfig(path)
		return err
	case KindPeer:
		_, err := LoadPeerConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}
