package plugin

import "fmt"

// String reads a string option, falling back to def.
func String(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return def
}

// Float reads a numeric option, falling back to def. YAML and JSON decoding
// produce int or float64 depending on the literal, so both are accepted.
func Float(cfg map[string]any, key string, def float64) (float64, error) {
	v, ok := cfg[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("option %s: want number, got %T", key, v)
	}
}

// Int reads an integer option, falling back to def.
func Int(cfg map[string]any, key string, def int) (int, error) {
	f, err := Float(cfg, key, float64(def))
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("option %s: want integer, got %v", key, f)
	}
	return int(f), nil
}
