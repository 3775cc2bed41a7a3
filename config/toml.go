package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// loadFile overlays values from a TOML file onto c. Keys absent from the
// file keep their current values.
func (c *Config) loadFile(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}
