// internal/providers/registry.go
package providers

import (
	"fmt"
	"strings"
)

// Registry resolves a model id to the adapter that serves it.
type Registry struct {
	byModel map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byModel: map[string]Adapter{}}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		for _, model := range a.Models() {
			model = strings.TrimSpace(model)
			if model == "" {
				continue
			}
			r.byModel[model] = a
		}
	}
	return r
}

func (r *Registry) ForModel(modelID string) (Adapter, error) {
	if r == nil {
		return nil, ErrUnknownModel
	}
	a, ok := r.byModel[strings.TrimSpace(modelID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	return a, nil
}

func (r *Registry) Supports(modelID string) bool {
	_, err := r.ForModel(modelID)
	return err == nil
}
