package executor

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config accessors shared by the builtin executors. Workflow
// definitions arrive as decoded JSON/YAML, so numbers may be float64,
// int or json.Number.

func getString(config map[string]any, key, fallback string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return fallback
}

func getBool(config map[string]any, key string, fallback bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return fallback
}

func getFloat(config map[string]any, key string, fallback float64) float64 {
	v, ok := config[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return fallback
}

func getInt(config map[string]any, key string, fallback int) int {
	return int(getFloat(config, key, float64(fallback)))
}

func getSeconds(config map[string]any, key string, fallback time.Duration) time.Duration {
	secs := getFloat(config, key, -1)
	if secs < 0 {
		return fallback
	}
	return time.Duration(secs * float64(time.Second))
}

func getStringMap(config map[string]any, key string) (map[string]string, error) {
	v, ok := config[key]
	if !ok || v == nil {
		return map[string]string{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config %q must be an object, got %T", key, v)
	}
	out := make(map[string]string, len(m))
	for k, item := range m {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("config %q: value for %q must be a string", key, k)
		}
		out[k] = s
	}
	return out, nil
}
