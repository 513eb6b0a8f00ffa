package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// FileNames are tried in order inside each search directory.
var FileNames = []string{"investigator.yaml", "investigator.yml", "investigator.jsonc", "investigator.json"}

// LoadFromPath reads a config file (YAML, JSON or JSONC) over the defaults.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Load(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Load parses config bytes over Default(). ext selects the format
// (.yaml/.yml, .json, .jsonc); empty detects from content.
func Load(data []byte, ext string) (*Config, error) {
	cfg := Default()
	ext = strings.ToLower(ext)
	if ext == "" {
		if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
			ext = ".jsonc"
		} else {
			ext = ".yaml"
		}
	}
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config json: %w", err)
		}
	case ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("parse config jsonc: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension %q", ext)
	}
	if cfg.Gaps.Severity == nil {
		cfg.Gaps.Severity = map[string]string{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Discover returns the effective config and the file it came from ("" for
// defaults). An explicit path must exist. Otherwise the case directory is
// searched first, then the working directory.
func Discover(caseDir, explicit string) (*Config, string, error) {
	if explicit != "" {
		cfg, err := LoadFromPath(explicit)
		return cfg, explicit, err
	}
	var dirs []string
	if caseDir != "" {
		dirs = append(dirs, caseDir)
	}
	dirs = append(dirs, ".")
	for _, dir := range dirs {
		for _, name := range FileNames {
			p := filepath.Join(dir, name)
			if _, err := os.Stat(p); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return nil, "", fmt.Errorf("stat config: %w", err)
			}
			cfg, err := LoadFromPath(p)
			return cfg, p, err
		}
	}
	return Default(), "", nil
}
