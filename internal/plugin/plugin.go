// Package plugin defines how optional features contribute schema, hooks and
// payment providers. Plugins are collected once at startup.
package plugin

import (
	"errors"
	"fmt"

	ppdomain "github.com/smallbiznis/chiron/internal/paymentprovider/domain"
	"github.com/smallbiznis/chiron/internal/repository"
	"github.com/smallbiznis/chiron/internal/schema"
)

var ErrDuplicatePlugin = errors.New("duplicate_plugin")

type Plugin struct {
	ID string
	// Schema extends core entities, keyed by model (customer, subscription, ...).
	Schema    map[string]schema.TableExtension
	Hooks     repository.Hooks
	Providers []ppdomain.Provider
}

// Set is an ordered list of plugins with distinct ids.
type Set []Plugin

func NewSet(plugins ...Plugin) (Set, error) {
	seen := make(map[string]struct{}, len(plugins))
	for _, p := range plugins {
		if p.ID == "" {
			return nil, errors.New("plugin id is required")
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePlugin, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return Set(append([]Plugin(nil), plugins...)), nil
}

// Extensions returns plugin schemas in registration order.
func (s Set) Extensions() []map[string]schema.TableExtension {
	var out []map[string]schema.TableExtension
	for _, p := range s {
		if len(p.Schema) > 0 {
			out = append(out, p.Schema)
		}
	}
	return out
}

// Hooks returns the global hook set followed by each plugin's.
func (s Set) Hooks(global repository.Hooks) []repository.Hooks {
	out := make([]repository.Hooks, 0, len(s)+1)
	out = append(out, global)
	for _, p := range s {
		out = append(out, p.Hooks)
	}
	return out
}

// Registry collects every plugin's providers.
func (s Set) Registry() (*ppdomain.Registry, error) {
	var providers []ppdomain.Provider
	for _, p := range s {
		providers = append(providers, p.Providers...)
	}
	return ppdomain.NewRegistry(providers...)
}
