package tags

import (
	"errors"
	"strings"
)

// ErrMissingTags is returned when a target has no tags field at all. An empty tag set is valid.
var ErrMissingTags = errors.New("all instances should have a 'tags' parameter")

// Merge combines the global tags with a target's own tags and returns them as "key:value" entries.
// Target tags override global tags with the same key. global is not modified.
//
// A nil local map means the target was configured without tags and returns ErrMissingTags.
func Merge(global, local map[string]string) ([]string, error) {
	if local == nil {
		return nil, ErrMissingTags
	}
	merged := make(map[string]string, len(global)+len(local))
	for key, value := range global {
		merged[key] = value
	}
	for key, value := range local {
		merged[key] = value
	}
	result := make([]string, 0, len(merged))
	for key, value := range merged {
		result = append(result, key+":"+value)
	}
	return result, nil
}

// Parse converts "key:value" entries into a map. An entry without a colon gets an empty value.
// Later entries override earlier ones.
func Parse(entries []string) map[string]string {
	result := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, _ := strings.Cut(entry, ":")
		result[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return result
}
