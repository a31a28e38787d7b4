package archive

import (
	"fmt"
)

// Factory resolves archive selectors from a build request onto configured
// backends, preserving configuration order so multi-archive manifests render
// deterministically.
type Factory struct {
	backends map[string]*Backend
	order    []string
	defaults []string
}

func NewFactory() *Factory {
	return &Factory{backends: make(map[string]*Backend)}
}

// Register adds a configured backend. Backends registered as default are
// selected when a request names no archive.
func (f *Factory) Register(b *Backend, isDefault bool) error {
	if b.ID == "" {
		return fmt.Errorf("archive: backend without id")
	}
	if _, dup := f.backends[b.ID]; dup {
		return fmt.Errorf("archive: duplicate backend id %q", b.ID)
	}
	f.backends[b.ID] = b
	f.order = append(f.order, b.ID)
	if isDefault {
		f.defaults = append(f.defaults, b.ID)
	}
	return nil
}

// Select returns the backends for the requested archive ids, or the default
// set when ids is empty. Unknown ids are an error.
func (f *Factory) Select(ids []string) ([]*Backend, error) {
	if len(ids) == 0 {
		ids = f.defaults
		if len(ids) == 0 {
			ids = f.order
		}
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := f.backends[id]; !ok {
			return nil, fmt.Errorf("archive: unknown archive %q", id)
		}
		want[id] = true
	}
	var out []*Backend
	for _, id := range f.order {
		if want[id] {
			out = append(out, f.backends[id])
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("archive: no archive configured")
	}
	return out, nil
}
