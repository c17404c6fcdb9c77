// Package providers resolves provider keys to their implementations.
package providers

import (
	"sort"
	"strings"

	"github.com/rumbosoft/rumbo/internal/payment/domain"
)

// Registry maps provider keys to implementations. Resolution never
// fails: unknown keys fall back to the default provider.
type Registry struct {
	providers map[string]domain.Provider
	def       domain.Provider
}

// NewRegistry builds a registry from the given providers. The default is
// the one matching defaultKey, or the first registered provider when the
// key is unknown. At least one provider is required.
func NewRegistry(defaultKey string, provs ...domain.Provider) *Registry {
	r := &Registry{providers: map[string]domain.Provider{}}
	for _, p := range provs {
		if p == nil {
			continue
		}
		key := normalizeKey(p.Key())
		if key == "" {
			continue
		}
		if _, exists := r.providers[key]; exists {
			continue
		}
		r.providers[key] = p
		if r.def == nil {
			r.def = p
		}
	}
	if def, ok := r.providers[normalizeKey(defaultKey)]; ok {
		r.def = def
	}
	return r
}

// Resolve returns the provider for a key, or the default provider for
// unknown or empty keys.
func (r *Registry) Resolve(key string) domain.Provider {
	if p, ok := r.providers[normalizeKey(key)]; ok {
		return p
	}
	return r.def
}

// Lookup returns the provider registered under exactly this key.
// Webhook routing must not fall back to the default.
func (r *Registry) Lookup(key string) (domain.Provider, bool) {
	p, ok := r.providers[normalizeKey(key)]
	return p, ok
}

// Keys returns the registered provider keys, sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.providers))
	for key := range r.providers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
