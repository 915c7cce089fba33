package main

import (
	"fmt"
	"strconv"
	"strings"
)

// splitSymbols flattens comma lists, upper-cases and drops blanks.
func splitSymbols(in []string) []string {
	var out []string
	for _, s := range in {
		for _, sym := range strings.Split(s, ",") {
			if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
				out = append(out, sym)
			}
		}
	}
	return out
}

// parseParams reads key=value pairs.
func parseParams(in []string) (map[string]float64, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(in))
	for _, kv := range in {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid param %q, want key=value", kv)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

// parseGrid reads key=v1,v2 entries. The flag parser splits on commas, so
// a bare value continues the list of the preceding key.
func parseGrid(in []string) (map[string][]float64, error) {
	out := make(map[string][]float64)
	key := ""
	for _, entry := range in {
		for _, part := range strings.Split(entry, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if k, v, ok := strings.Cut(part, "="); ok {
				key = strings.TrimSpace(k)
				if key == "" {
					return nil, fmt.Errorf("invalid grid entry %q", entry)
				}
				part = v
			}
			if key == "" {
				return nil, fmt.Errorf("grid value %q has no key", part)
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid value for %s: %w", key, err)
			}
			out[key] = append(out[key], f)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty parameter grid")
	}
	return out, nil
}
