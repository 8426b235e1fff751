package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// overlay holds the optional config file contents. Keys mirror the flag
// names in camelCase; values act as defaults below env vars and flags.
type overlay struct {
	values map[string]any
}

// loadOverlay reads path as YAML or JSON by extension. An empty path means
// no overlay. YAML is the default for unknown extensions since JSON is a
// YAML subset.
func loadOverlay(path string) (overlay, error) {
	if strings.TrimSpace(path) == "" {
		return overlay{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return overlay{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	values := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &values); err != nil {
			return overlay{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &values); err != nil {
			return overlay{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	return overlay{values: values}, nil
}

func (o overlay) has(key string) bool {
	_, ok := o.values[key]
	return ok
}

func (o overlay) stringOr(key, fallback string) string {
	v, ok := o.values[key]
	if !ok {
		return fallback
	}
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func (o overlay) intOr(key string, fallback int) int {
	switch v := o.values[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func (o overlay) boolOr(key string, fallback bool) bool {
	if v, ok := o.values[key].(bool); ok {
		return v
	}
	return fallback
}

func (o overlay) durationOr(key string, fallback time.Duration) time.Duration {
	s, ok := o.values[key].(string)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
