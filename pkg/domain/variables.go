package domain

// CloneVariables returns a deep copy of a variable map. Nested maps and
// slices are copied recursively; a nil input yields an empty, usable map
// so callers never share state through an aliased snapshot.
func CloneVariables(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

// MergeVariables copies every entry of src into dst, overwriting on key
// collision. dst must be non-nil.
func MergeVariables(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneVariables(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
