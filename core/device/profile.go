package device

import (
	"fmt"
	"strconv"
)

// hourlyProfile turns a scalar or an hour->power map into 24 hourly values.
// Missing hours repeat the previous defined hour, starting from zero.
// Negative powers are rejected.
func hourlyProfile(v any) ([24]float64, error) {
	var out [24]float64
	if v == nil {
		return out, nil
	}
	if f, ok := toFloat(v); ok {
		for i := range out {
			out[i] = f
		}
		return out, validProfile(out)
	}
	entries := map[int]float64{}
	switch m := v.(type) {
	case map[int]float64:
		entries = m
	case map[string]any:
		for k, raw := range m {
			h, err := strconv.Atoi(k)
			if err != nil {
				return out, fmt.Errorf("%w: hour %q is not an integer", ErrInvalidConfig, k)
			}
			f, ok := toFloat(raw)
			if !ok {
				return out, fmt.Errorf("%w: power for hour %d is not numeric", ErrInvalidConfig, h)
			}
			entries[h] = f
		}
	case map[any]any:
		for k, raw := range m {
			h, ok := toFloat(k)
			f, okv := toFloat(raw)
			if !ok || !okv {
				return out, fmt.Errorf("%w: invalid hourly entry %v", ErrInvalidConfig, k)
			}
			entries[int(h)] = f
		}
	default:
		return out, fmt.Errorf("%w: power should be a number or an hourly map", ErrInvalidConfig)
	}
	latest := 0.0
	for h := 0; h < 24; h++ {
		if f, ok := entries[h]; ok {
			latest = f
		}
		out[h] = latest
	}
	return out, validProfile(out)
}

func validProfile(p [24]float64) error {
	for h, f := range p {
		if f < 0 {
			return fmt.Errorf("%w: power for hour %d should be positive", ErrInvalidConfig, h)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
