// Package source binds configured sources to their client implementations.
package source

import (
	"fmt"
	"sort"

	"LeadScanner/internal/ports"
)

// Source is one configured upstream with the collections to crawl.
type Source struct {
	Name        string
	Client      ports.SourceClient
	Collections []string
}

// Spec describes a source as configured.
type Spec struct {
	Name        string
	Client      string
	Collections []string
}

// Registry keeps a mapping from client names to their implementations.
type Registry struct {
	clients map[string]ports.SourceClient
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: map[string]ports.SourceClient{}}
}

// Register adds or replaces a client implementation.
func (r *Registry) Register(name string, client ports.SourceClient) {
	if r.clients == nil {
		r.clients = map[string]ports.SourceClient{}
	}
	r.clients[name] = client
}

// Resolve returns a client by name or an error if it is absent.
func (r *Registry) Resolve(name string) (ports.SourceClient, error) {
	if client, ok := r.clients[name]; ok {
		return client, nil
	}
	return nil, fmt.Errorf("source client %s is not registered (known: %v)", name, r.names())
}

// Bind resolves every spec, keeping configuration order.
func (r *Registry) Bind(specs []Spec) ([]Source, error) {
	sources := make([]Source, 0, len(specs))
	for _, spec := range specs {
		client, err := r.Resolve(spec.Client)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", spec.Name, err)
		}
		if len(spec.Collections) == 0 {
			return nil, fmt.Errorf("source %s has no collections", spec.Name)
		}
		sources = append(sources, Source{
			Name:        spec.Name,
			Client:      client,
			Collections: append([]string(nil), spec.Collections...),
		})
	}
	return sources, nil
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
