package shortcut

import (
	"fmt"
	"sort"
	"sync"
)

// FakeRegistrar records registrations in memory. Press simulates a keydown.
type FakeRegistrar struct {
	mu       sync.Mutex
	bound    map[string]func()
	failures map[string]error
}

func NewFakeRegistrar() *FakeRegistrar {
	return &FakeRegistrar{bound: make(map[string]func()), failures: make(map[string]error)}
}

func (f *FakeRegistrar) Register(c Combo, fn func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := c.String()
	if err := f.failures[name]; err != nil {
		return err
	}
	if _, ok := f.bound[name]; ok {
		return fmt.Errorf("hotkey %s is already registered", name)
	}
	f.bound[name] = fn
	return nil
}

func (f *FakeRegistrar) Unregister(c Combo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bound, c.String())
	return nil
}

// FailOn makes registering the canonical combo name fail with err
func (f *FakeRegistrar) FailOn(name string, err error) {
	f.mu.Lock()
	f.failures[name] = err
	f.mu.Unlock()
}

// Press runs the callback bound to the canonical combo name
func (f *FakeRegistrar) Press(name string) bool {
	f.mu.Lock()
	fn, ok := f.bound[name]
	f.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}

// Bound returns the registered combos in sorted order
func (f *FakeRegistrar) Bound() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.bound))
	for name := range f.bound {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
