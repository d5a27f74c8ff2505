package cache

import "encoding/json"

// UnmarshalCacheValue converts a cached value to *T. Values are normally
// stored as *T; JSON strings are accepted too.
func UnmarshalCacheValue[T any](value interface{}) (*T, bool) {
	if value == nil {
		return nil, false
	}

	if typed, ok := value.(*T); ok {
		copied := *typed
		return &copied, true
	}

	if str, ok := value.(string); ok {
		var result T
		if err := json.Unmarshal([]byte(str), &result); err == nil {
			return &result, true
		}
	}

	return nil, false
}
