// Package config implements the agent runtime's configuration layer:
// a flat key/value store merged from the process environment and an
// optional .env-style file, exposed through named sections so each
// subsystem only sees the keys relevant to it.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Error is returned for an out-of-range or malformed configuration
// value; init fails on it rather than guessing a substitute.
type Error struct {
	Key    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// Section is a namespaced view over the merged configuration values.
// A zero-value prefix is the root section; Sub returns a child section
// whose keys are looked up as PREFIX_KEY in the root map, mirroring
// how each subsystem gets its own scoped view of configuration
// (e.g. a plugin section's "DIR" key is really "PLUGIN_DIR" at the
// root).
type Section struct {
	prefix string
	values map[string]string
}

// Load merges the process environment with, at higher precedence, the
// contents of an optional .env-style file at path (ignored if path is
// empty). It returns the root Section.
func Load(path string) (*Section, error) {
	values := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			values[k] = v
		}
	}
	if path != "" {
		fileValues, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		for k, v := range fileValues {
			values[k] = v
		}
	}
	return &Section{values: values}, nil
}

// FromMap builds a root Section directly from values, bypassing the
// environment and any file. Useful for tests and for embedders that
// already have their configuration assembled.
func FromMap(values map[string]string) *Section {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Section{values: copied}
}

// Sub returns the child section named name: its keys are looked up
// under the prefix "NAME_" (or "PARENTPREFIX_NAME_" if s is already a
// child section).
func (s *Section) Sub(name string) *Section {
	prefix := strings.ToUpper(name)
	if s.prefix != "" {
		prefix = s.prefix + "_" + prefix
	}
	return &Section{prefix: prefix, values: s.values}
}

func (s *Section) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + "_" + k
}

// Has reports whether key is set in this section.
func (s *Section) Has(key string) bool {
	_, ok := s.values[s.key(key)]
	return ok
}

// GetOr returns the string value of key, or def if unset.
func (s *Section) GetOr(key, def string) string {
	if v, ok := s.values[s.key(key)]; ok {
		return v
	}
	return def
}

// IntInRange returns key parsed as an integer, enforcing min <= v <=
// max. If key is unset, def is returned (and range-checked too, since
// a bad default is still a configuration error). required controls
// whether an unset key is itself an error rather than falling back to
// def.
func (s *Section) IntInRange(key string, min, max int, required bool, def int) (int, error) {
	raw, ok := s.values[s.key(key)]
	if !ok {
		if required {
			return 0, &Error{Key: s.key(key), Reason: "required but not set"}
		}
		raw = strconv.Itoa(def)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &Error{Key: s.key(key), Reason: fmt.Sprintf("%q is not an integer", raw)}
	}
	if v < min || v > max {
		return 0, &Error{Key: s.key(key), Reason: fmt.Sprintf("%d is out of range [%d, %d]", v, min, max)}
	}
	return v, nil
}

// Int returns key parsed as an integer, with no range restriction
// beyond what fits in an int. See IntInRange for required/def.
func (s *Section) Int(key string, required bool, def int) (int, error) {
	return s.IntInRange(key, math.MinInt, math.MaxInt, required, def)
}

// Duration returns key parsed as an integer count of unit, enforcing
// min <= v <= max (also expressed as a count of unit). It is
// IntInRange plus the multiplication every millisecond-resolution
// config value in this package otherwise repeats by hand.
func (s *Section) Duration(key string, unit time.Duration, min, max int, required bool, def int) (time.Duration, error) {
	v, err := s.IntInRange(key, min, max, required, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * unit, nil
}
