package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	derrors "git.home.luguber.info/inful/stratus/internal/errors"
)

// rawDocument preserves every top-level key of the config file, including
// sections this binary does not understand.
type rawDocument map[string]json.RawMessage

// Load reads path, applies defaults and env overrides, and remembers the raw
// document for lossless Save. A missing file yields defaults, not an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		cfg.applyEnv()
		return cfg, nil
	}
	if err != nil {
		return nil, derrors.ConfigInvalid(path, err)
	}
	return Parse(data, path)
}

// Parse decodes config file bytes. path is used only for error messages.
func Parse(data []byte, path string) (*Config, error) {
	cfg := &Config{raw: rawDocument{}}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &cfg.raw); err != nil {
			return nil, derrors.ConfigInvalid(path, err)
		}
	}

	sections := map[string]any{
		"project":       &cfg.Project,
		"learning":      &cfg.Learning,
		"retrieval":     &cfg.Retrieval,
		"orchestration": &cfg.Orchestration,
	}
	for key, dst := range sections {
		rawSection, ok := cfg.raw[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(rawSection, dst); err != nil {
			return nil, derrors.ConfigInvalid(path, fmt.Errorf("section %q: %w", key, err))
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

// Save writes the config back to path, re-encoding the typed sections into
// the raw document so keys from other tools are preserved. Written via a
// temp file then rename.
func (c *Config) Save(path string) error {
	if c.raw == nil {
		c.raw = rawDocument{}
	}

	sections := map[string]any{
		"project":       c.Project,
		"learning":      c.Learning,
		"retrieval":     c.Retrieval,
		"orchestration": c.Orchestration,
	}
	for key, src := range sections {
		encoded, err := json.Marshal(src)
		if err != nil {
			return derrors.Internal(err, fmt.Sprintf("encode config section %q", key))
		}
		c.raw[key] = encoded
	}

	out, err := json.MarshalIndent(c.raw, "", "  ")
	if err != nil {
		return derrors.Internal(err, "encode config")
	}
	out = append(out, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".ai-framework-*.json")
	if err != nil {
		return derrors.ConfigInvalid(path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return derrors.ConfigInvalid(path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return derrors.ConfigInvalid(path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return derrors.ConfigInvalid(path, err)
	}
	return nil
}
