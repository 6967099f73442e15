package workflow

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// StageKeyPrefix namespaces stage outputs within the run context.
// A stage named "plan" writing key "summary" is readable as
// "stage.plan.summary".
const StageKeyPrefix = "stage."

// ErrKeyNotFound represents an error when a requested key does not exist in
// the run context.
type ErrKeyNotFound struct {
	Key string
}

// Error implements the error interface.
func (e ErrKeyNotFound) Error() string {
	return fmt.Sprintf("key %q not found", e.Key)
}

// ErrTypeAssertion represents an error when a context value cannot be
// asserted to the expected type. The actual value is never included in the
// message to prevent credential leakage.
type ErrTypeAssertion struct {
	Key  string
	Got  string
	Want string
}

// Error implements the error interface.
func (e ErrTypeAssertion) Error() string {
	return fmt.Sprintf("key %q is %s, not %s", e.Key, e.Got, e.Want)
}

// ErrKeyExists is returned when a Set would overwrite an existing key.
// The run context is append-only: stage outputs accumulate, never mutate.
type ErrKeyExists struct {
	Key string
}

// Error implements the error interface.
func (e ErrKeyExists) Error() string {
	return fmt.Sprintf("key %q already set", e.Key)
}

// RunContext is the typed, append-only key-value store that carries data
// across the stages of a run. Keys written by stages are namespaced as
// stage.<name>.<key>, which makes it possible to see statically which prior
// stage a consumer reads from.
//
// Safe for concurrent use; writes only happen from the engine's run loop but
// events and listeners may read concurrently.
type RunContext struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewRunContext creates a run context seeded with the given initial values
// (typically workflow options or caller-provided inputs).
func NewRunContext(initial map[string]any) *RunContext {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &RunContext{values: values}
}

// Set stores a value under key. Returns ErrKeyExists if the key is already
// present: the context is append-only.
func (c *RunContext) Set(key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.values[key]; exists {
		return ErrKeyExists{Key: key}
	}
	c.values[key] = value
	return nil
}

// MergeStageOutput records a stage's output map under stage.<name>.<key>.
// Colliding keys are left at their first value, honoring append-only
// semantics; collisions are reported so the engine can log them.
func (c *RunContext) MergeStageOutput(stage string, output map[string]any) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var collisions []string
	for k, v := range output {
		key := StageKeyPrefix + stage + "." + k
		if _, exists := c.values[key]; exists {
			collisions = append(collisions, key)
			continue
		}
		c.values[key] = v
	}
	sort.Strings(collisions)
	return collisions
}

// Get retrieves a raw value.
func (c *RunContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// GetString retrieves a string value.
// Returns ErrKeyNotFound if key doesn't exist, ErrTypeAssertion if wrong type.
func (c *RunContext) GetString(key string) (string, error) {
	v, ok := c.Get(key)
	if !ok {
		return "", ErrKeyNotFound{Key: key}
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrTypeAssertion{Key: key, Got: fmt.Sprintf("%T", v), Want: "string"}
	}
	return s, nil
}

// GetBool retrieves a bool value.
func (c *RunContext) GetBool(key string) (bool, error) {
	v, ok := c.Get(key)
	if !ok {
		return false, ErrKeyNotFound{Key: key}
	}
	b, ok := v.(bool)
	if !ok {
		return false, ErrTypeAssertion{Key: key, Got: fmt.Sprintf("%T", v), Want: "bool"}
	}
	return b, nil
}

// GetInt retrieves an integer value, tolerating the numeric types that
// JSON/YAML unmarshaling produces.
func (c *RunContext) GetInt(key string) (int, error) {
	v, ok := c.Get(key)
	if !ok {
		return 0, ErrKeyNotFound{Key: key}
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, ErrTypeAssertion{Key: key, Got: fmt.Sprintf("%T", v), Want: "int"}
	}
}

// GetStringOr returns a string value or the default if missing or wrong type.
func (c *RunContext) GetStringOr(key, defaultVal string) string {
	s, err := c.GetString(key)
	if err != nil {
		return defaultVal
	}
	return s
}

// StageKeys returns every key recorded by the named stage, without the
// stage.<name>. prefix, in sorted order.
func (c *RunContext) StageKeys(stage string) []string {
	prefix := StageKeyPrefix + stage + "."

	c.mu.RLock()
	defer c.mu.RUnlock()

	var keys []string
	for k := range c.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a shallow copy of all values. Used when handing the
// context to an agent executor or an expression evaluator, which expect an
// untyped map.
func (c *RunContext) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string]any, len(c.values))
	for k, v := range c.values {
		snapshot[k] = v
	}
	return snapshot
}

// Len returns the number of keys in the context.
func (c *RunContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}
