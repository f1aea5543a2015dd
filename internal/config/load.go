// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"

	"grimm.is/stackveil/internal/errors"
)

// LoadFile loads a config file. The format follows the extension (.hcl,
// .json, .yaml/.yml); anything else is tried as HCL, then JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		kind := errors.KindInternal
		if os.IsNotExist(err) {
			kind = errors.KindNotFound
		}
		return nil, errors.Attr(errors.Wrap(err, kind, "failed to read config file"), "path", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return LoadHCL(data, path)
	case ".json":
		return LoadJSON(data)
	case ".yaml", ".yml":
		return LoadYAML(data)
	default:
		cfg, hclErr := LoadHCL(data, path)
		if hclErr == nil {
			return cfg, nil
		}
		cfg, jsonErr := LoadJSON(data)
		if jsonErr == nil {
			return cfg, nil
		}
		return nil, errors.Wrapf(hclErr, errors.KindValidation, "failed to parse config as HCL (JSON fallback error: %v)", jsonErr)
	}
}

// LoadHCL loads config from HCL bytes.
func LoadHCL(data []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, errors.Wrap(diags, errors.KindValidation, "failed to parse HCL")
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
		return nil, errors.Wrap(diags, errors.KindValidation, "failed to decode HCL")
	}
	return finish(&cfg)
}

// LoadJSON loads config from JSON bytes. Unknown fields are rejected.
func LoadJSON(data []byte) (*Config, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "failed to parse JSON")
	}
	return finish(&cfg)
}

// LoadYAML loads config from YAML bytes. Unknown fields are rejected.
func LoadYAML(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "failed to parse YAML")
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	if cfg.SchemaVersion != "" && cfg.SchemaVersion != CurrentSchemaVersion {
		return nil, errors.Errorf(errors.KindValidation,
			"config version %s is not supported (want %s)", cfg.SchemaVersion, CurrentSchemaVersion)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// String renders a short summary, used in startup logs.
func (c *Config) String() string {
	store := "memory"
	if c.BPF != nil {
		store = "bpf"
		if c.BPF.PinDir != "" {
			store = "bpf:" + c.BPF.PinDir
		}
	}
	return fmt.Sprintf("store=%s tcp_profiles=%d ja3_profiles=%d", store, len(c.TCPProfiles), len(c.JA3Profiles))
}
