package dispatch

import (
	"time"

	"github.com/stacklok/fedmcp/pkg/apperr"
)

// argString returns args[key] as a string, or def if absent. Unknown
// fields in args are ignored everywhere in this package per spec.md
// §4.6 step 2 — only missing *required* fields fail InvalidParams.
func argString(args map[string]any, key, def string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func argRequiredString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", apperr.New(apperr.KindInvalidParams, "missing required field "+key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", apperr.New(apperr.KindInvalidParams, "field "+key+" must be a non-empty string")
	}
	return s, nil
}

func argInt(args map[string]any, key string, def int) int {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

func argBool(args map[string]any, key string, def bool) bool {
	v, ok := args[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func argTime(args map[string]any, key string, def time.Time) time.Time {
	v, ok := args[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return def
	}
	return t
}
