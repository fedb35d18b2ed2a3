package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML-encoded ProtocolParams file, applies defaults for any
// zero-valued field, and validates the result before returning it.
func Load(path string) (ProtocolParams, error) {
	var params ProtocolParams
	if _, err := toml.DecodeFile(path, &params); err != nil {
		return ProtocolParams{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	params.EnsureDefaults()
	if err := params.Validate(); err != nil {
		return ProtocolParams{}, err
	}
	return params, nil
}
