package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a flat YAML document of environment keys and exports every
// key that is not already set in the process environment. Keys are matched
// case-insensitively against the env names Load understands, so
//
//	llm_model: mistralai/mistral-7b-instruct
//	chunk_size: 800
//
// behaves like LLM_MODEL and CHUNK_SIZE. Real environment variables win.
// Call LoadFile before Load.
func LoadFile(path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	for k, v := range doc {
		key := strings.ToUpper(strings.TrimSpace(k))
		if key == "" || v == nil {
			continue
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		val, err := scalar(v)
		if err != nil {
			return fmt.Errorf("config key %q: %w", k, err)
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

// scalar renders a YAML value as an env string. Sequences become CSV so that
// list-valued keys like cors_allowed_origins can be written naturally.
func scalar(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool, int, int64, float64:
		return fmt.Sprint(t), nil
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			s, err := scalar(e)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
