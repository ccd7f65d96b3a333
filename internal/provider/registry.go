package provider

import (
	"sync"

	"github.com/pickersync/pickersync/internal/model"
)

// registration pairs an installed provider's identity with its callable
// MediaProvider implementation.
type registration struct {
	info     model.ProviderInfo
	provider MediaProvider
}

// Registry enumerates installed media-providers and resolves an authority
// to its ProviderInfo, honoring the ConfigStore allow-list (spec §4.B).
type Registry struct {
	mu          sync.RWMutex
	byAuthority map[string]registration
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{byAuthority: make(map[string]registration)}
}

// Register adds or replaces an installed provider. The local provider and
// every discoverable cloud provider must be registered before Available,
// AllAvailable, or Resolve can see them — this stands in for the Android
// PackageManager query the real system performs.
func (r *Registry) Register(info model.ProviderInfo, mp MediaProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAuthority[info.Authority] = registration{info: info, provider: mp}
}

// Unregister removes an installed provider, e.g. on package removal.
func (r *Registry) Unregister(authority string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byAuthority, authority)
}

// AllAvailable returns every installed provider, ignoring the allow-list.
// Used for testing and legacy-support checks (spec §4.B).
func (r *Registry) AllAvailable() []model.ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ProviderInfo, 0, len(r.byAuthority))
	for _, reg := range r.byAuthority {
		out = append(out, reg.info)
	}
	return out
}

// Available returns installed providers filtered by allowList. A nil
// allowList means "allow everything" (matches AllAvailable).
func (r *Registry) Available(allowList []string) []model.ProviderInfo {
	if allowList == nil {
		return r.AllAvailable()
	}

	allowed := make(map[string]bool, len(allowList))
	for _, a := range allowList {
		allowed[a] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ProviderInfo, 0, len(r.byAuthority))
	for authority, reg := range r.byAuthority {
		if allowed[authority] {
			out = append(out, reg.info)
		}
	}
	return out
}

// Resolve returns the ProviderInfo for authority, consulting the allow-list
// unless ignoreAllowlist is set. Returns the empty sentinel and false if
// the authority is not installed or not allow-listed.
func (r *Registry) Resolve(authority string, ignoreAllowlist bool, allowList []string) (model.ProviderInfo, bool) {
	if authority == "" {
		return model.EmptyProviderInfo, false
	}

	r.mu.RLock()
	reg, ok := r.byAuthority[authority]
	r.mu.RUnlock()
	if !ok {
		return model.EmptyProviderInfo, false
	}

	if ignoreAllowlist || allowList == nil {
		return reg.info, true
	}
	for _, a := range allowList {
		if a == authority {
			return reg.info, true
		}
	}
	return model.EmptyProviderInfo, false
}

// Get returns the callable MediaProvider for authority.
func (r *Registry) Get(authority string) (MediaProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byAuthority[authority]
	if !ok {
		return nil, false
	}
	return reg.provider, true
}
