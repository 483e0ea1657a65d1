// Package services provides the built-in handlers and the catalog that
// creates them by name.
package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"svchost/internal/server"
)

// ErrUnknownHandler is returned by Catalog.New for names with no registered factory.
var ErrUnknownHandler = errors.New("unknown service")

// Factory builds a fresh handler with no arguments.
type Factory func() server.Handler

// Catalog maps service names to factories. Names are case-insensitive.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// DefaultCatalog returns a catalog holding every built-in handler that can
// be built without arguments.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.MustRegister("time", func() server.Handler { return &Clock{} })
	c.MustRegister("reverse", func() server.Handler { return &Reverse{} })
	c.MustRegister("httpmirror", func() server.Handler { return &HTTPMirror{} })
	c.MustRegister("uniqueid", func() server.Handler { return &UniqueID{} })
	return c
}

// Register adds a factory under name.
func (c *Catalog) Register(name string, f Factory) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if f == nil {
		return fmt.Errorf("service '%s': nil factory", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.factories[key]; exists {
		return fmt.Errorf("service '%s' already registered", name)
	}
	c.factories[key] = f
	return nil
}

// MustRegister is like Register but panics on error.
func (c *Catalog) MustRegister(name string, f Factory) {
	if err := c.Register(name, f); err != nil {
		panic(err)
	}
}

// New builds the handler registered under name. A factory that panics or
// returns nil is reported as an error.
func (c *Catalog) New(name string) (h server.Handler, err error) {
	c.mu.RLock()
	f, ok := c.factories[strings.ToLower(name)]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, name)
	}

	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("failed to create service '%s': %v", name, r)
		}
	}()
	h = f()
	if h == nil {
		return nil, fmt.Errorf("failed to create service '%s': factory returned nil", name)
	}
	return h, nil
}

// Names returns the registered names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
