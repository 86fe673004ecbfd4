package config

import (
	"fmt"
	"sort"
	"strings"

	"LendingPool/internal/state"

	"github.com/BurntSushi/toml"
)

// LoadPoolConfig decodes and validates a TOML pool parameter file. Unknown
// keys are rejected so a misspelled parameter never silently falls back to 0.
func LoadPoolConfig(path string) (state.PoolConfig, error) {
	var cfg state.PoolConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return state.PoolConfig{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return checkPoolConfig(cfg, meta)
}

// ParsePoolConfig is LoadPoolConfig for in-memory TOML.
func ParsePoolConfig(data string) (state.PoolConfig, error) {
	var cfg state.PoolConfig
	meta, err := toml.Decode(data, &cfg)
	if err != nil {
		return state.PoolConfig{}, fmt.Errorf("decode pool config: %w", err)
	}
	return checkPoolConfig(cfg, meta)
}

func checkPoolConfig(cfg state.PoolConfig, meta toml.MetaData) (state.PoolConfig, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return state.PoolConfig{}, fmt.Errorf("unknown pool config keys: %s", strings.Join(keys, ", "))
	}
	if err := state.ValidatePoolConfig(&cfg); err != nil {
		return state.PoolConfig{}, err
	}
	return cfg, nil
}
