// Package config loads on-disk YAML descriptions of a network into the
// types the rest of the module already works with, so an operator can
// hand a node a file instead of repeating every flag.
package config

import (
	"os"

	"github.com/knirv/knirvbase/internal/types"
	"gopkg.in/yaml.v3"
)

// LoadNetworkConfig reads a YAML file at path into a NetworkConfig.
// Fields not present in the file keep their zero values, matching the
// rest of the module's "NetworkConfig is just data" treatment — nothing
// here validates it; that's the caller's job via validator tags.
func LoadNetworkConfig(path string) (types.NetworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.NetworkConfig{}, types.NewIOError("read network config", err)
	}

	var cfg types.NetworkConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return types.NetworkConfig{}, types.NewProtocolError("parse network config", err)
	}
	return cfg, nil
}
