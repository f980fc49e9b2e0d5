package espresso

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownObjectName is returned by Factory.Make for a name no
// constructor was registered under.
var ErrUnknownObjectName = errors.New("unknown object name")

// Factory creates Instances by registered name. Every process of a
// simulation registers the same constructors under the same names, so a
// creation broadcast can be replayed on any node.
type Factory struct {
	mu     sync.RWMutex
	makers map[string]func() Instance
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{makers: make(map[string]func() Instance)}
}

// Register registers a constructor under name. Registering the same
// name twice is an error: it would silently change what an already
// broadcast creation means on a late-starting node.
func (f *Factory) Register(name string, maker func() Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.makers[name]; ok {
		return fmt.Errorf("object name '%s' already registered", name)
	}
	f.makers[name] = maker
	return nil
}

// Make constructs a fresh Instance for name.
func (f *Factory) Make(name string) (Instance, error) {
	f.mu.RLock()
	maker, ok := f.makers[name]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownObjectName, name)
	}
	return maker(), nil
}

// Names returns all registered names, sorted.
func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.makers))
	for name := range f.makers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
