package providers

import (
	"fmt"
	"sort"
)

// Registry holds the configured provider variants keyed by id.
type Registry struct {
	protocols map[string]Protocol
}

// NewRegistry registers each protocol under its ID. Later duplicates replace earlier ones.
func NewRegistry(protocols ...Protocol) *Registry {
	registry := &Registry{protocols: make(map[string]Protocol, len(protocols))}
	for _, protocol := range protocols {
		if protocol == nil {
			continue
		}
		registry.protocols[protocol.ID()] = protocol
	}
	return registry
}

// Lookup returns the protocol registered under id.
func (registry *Registry) Lookup(id string) (Protocol, error) {
	if registry == nil {
		return nil, fmt.Errorf("provider.lookup.%s: %w", id, ErrUnknownProvider)
	}
	protocol, ok := registry.protocols[id]
	if !ok {
		return nil, fmt.Errorf("provider.lookup.%s: %w", id, ErrUnknownProvider)
	}
	return protocol, nil
}

// IDs lists registered provider ids in sorted order.
func (registry *Registry) IDs() []string {
	if registry == nil {
		return nil
	}
	ids := make([]string, 0, len(registry.protocols))
	for id := range registry.protocols {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
