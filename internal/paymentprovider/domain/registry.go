package domain

import (
	"fmt"
	"strings"
)

// Registry is the fixed set of providers configured at startup. It is
// never modified after construction.
type Registry struct {
	providers []Provider
	byID      map[string]int
}

// NewRegistry keeps providers in the given order. Ids must be non-empty
// and distinct.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{
		providers: make([]Provider, 0, len(providers)),
		byID:      make(map[string]int, len(providers)),
	}
	for _, p := range providers {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, ErrInvalidProvider
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProvider, id)
		}
		p.ID = id
		r.byID[id] = len(r.providers)
		r.providers = append(r.providers, p)
	}
	return r, nil
}

// Find resolves a provider by id.
func (r *Registry) Find(id string) (Provider, bool) {
	if r == nil {
		return Provider{}, false
	}
	i, ok := r.byID[id]
	if !ok {
		return Provider{}, false
	}
	return r.providers[i], true
}

// IDs lists provider ids in registration order.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, len(r.providers))
	for i, p := range r.providers {
		ids[i] = p.ID
	}
	return ids
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.providers)
}
