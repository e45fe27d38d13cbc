package partial

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"liquidil/internal/il"
)

// CompileFunc compiles a partial's source into its IL bundle. The compiler
// package supplies this, closing over its own options (optimize, nested
// inlining, etc).
type CompileFunc func(source string) (*il.Program, error)

// InlineCache is the shared, name-keyed cache every recursive compile call
// reads and writes, grounded on the teacher's ModuleLoader cache but using
// singleflight instead of a bespoke RWMutex critical section to collapse
// concurrent compiles of the same partial into one.
type InlineCache struct {
	mu      sync.RWMutex
	bundles map[string]*il.Program
	group   singleflight.Group
}

// NewInlineCache builds an empty cache.
func NewInlineCache() *InlineCache {
	return &InlineCache{bundles: make(map[string]*il.Program)}
}

// Get returns a previously compiled bundle for name, if any.
func (c *InlineCache) Get(name string) (*il.Program, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.bundles[name]
	return p, ok
}

// CompileOnce compiles name's source at most once across concurrent or
// re-entrant callers, sharing the result, per spec.md §4.4: "the cache is
// keyed by name; a successful compile populates it for reuse."
func (c *InlineCache) CompileOnce(name string, loader Loader, compile CompileFunc) (*il.Program, error) {
	if p, ok := c.Get(name); ok {
		return p, nil
	}
	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		if p, ok := c.Get(name); ok {
			return p, nil
		}
		source, err := loader.Read(name)
		if err != nil {
			return nil, err
		}
		prog, err := compile(source)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.bundles[name] = prog
		c.mu.Unlock()
		return prog, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*il.Program), nil
}

// Stack tracks partial names currently being compiled along the current
// recursive call chain. A name already on the stack must be skipped by
// the caller to prevent unbounded {% render %}/{% include %} recursion.
type Stack struct {
	names []string
}

// Contains reports whether name is already being compiled somewhere up
// the current call chain.
func (s *Stack) Contains(name string) bool {
	for _, n := range s.names {
		if n == name {
			return true
		}
	}
	return false
}

// Push records that name is now being compiled.
func (s *Stack) Push(name string) { s.names = append(s.names, name) }

// Pop removes the most recently pushed name.
func (s *Stack) Pop() { s.names = s.names[:len(s.names)-1] }
