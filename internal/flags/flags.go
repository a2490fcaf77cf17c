// Package flags decides whether an optional feature is active.
//
// Resolution order, first match wins:
//
//  1. ENABLE_<NAME> in the environment (1, true or yes enable; any other
//     value disables)
//  2. the static flags file, when it was loaded and holds the exact name
//  3. enabled, unless the process runs in production mode
package flags

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// Set is the process-wide static flag table. It is read-only once loaded.
type Set struct {
	values map[string]bool
	loaded bool
	source string
}

// Empty returns a Set that was never loaded from a file.
func Empty() Set {
	return Set{}
}

// FromMap builds a loaded Set from literal values.
func FromMap(values map[string]bool) Set {
	cp := make(map[string]bool, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return Set{values: cp, loaded: true, source: "inline"}
}

// Load reads a JSON object of feature name to value. A missing file yields an
// Empty set and a nil error; an unreadable or malformed file yields an Empty
// set plus the error so the caller can log it and carry on.
func Load(path string) (Set, error) {
	if path == "" {
		return Empty(), nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Empty(), nil
	}
	if err != nil {
		return Empty(), fmt.Errorf("read flags file %s: %w", path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Empty(), fmt.Errorf("parse flags file %s: %w", path, err)
	}
	values := make(map[string]bool, len(doc))
	for k, v := range doc {
		values[k] = truthy(v)
	}
	return Set{values: values, loaded: true, source: path}, nil
}

// Loaded reports whether the set came from a readable file.
func (s Set) Loaded() bool { return s.loaded }

// Source is the file the set was read from.
func (s Set) Source() string { return s.source }

// Len is the number of entries.
func (s Set) Len() int { return len(s.values) }

// Lookup returns the static value for name.
func (s Set) Lookup(name string) (value, ok bool) {
	if !s.loaded {
		return false, false
	}
	value, ok = s.values[name]
	return value, ok
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return isTruthyString(t)
	default:
		return false
	}
}

func isTruthyString(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// EnvKey derives the environment variable consulted for a feature name.
func EnvKey(name string) string {
	var b strings.Builder
	b.WriteString("ENABLE_")
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Resolver answers IsEnabled queries.
type Resolver struct {
	set        Set
	production bool
	lookupEnv  func(string) (string, bool)
}

// NewResolver binds a flag set and the deployment mode.
func NewResolver(set Set, production bool) *Resolver {
	return &Resolver{set: set, production: production, lookupEnv: os.LookupEnv}
}

// Decision explains one resolution, for startup logs.
type Decision struct {
	Enabled bool
	Source  string // "env", "file" or "default"
	Key     string
}

// IsEnabled reports whether the named feature is active.
func (r *Resolver) IsEnabled(name string) bool {
	return r.Resolve(name).Enabled
}

// Resolve walks env, file, default and reports which one decided.
func (r *Resolver) Resolve(name string) Decision {
	key := EnvKey(name)
	if v, ok := r.lookupEnv(key); ok {
		return Decision{Enabled: isTruthyString(v), Source: "env", Key: key}
	}
	if v, ok := r.set.Lookup(name); ok {
		return Decision{Enabled: v, Source: "file", Key: name}
	}
	return Decision{Enabled: !r.production, Source: "default"}
}
