package metadata

import (
	"errors"
	"fmt"
	"sync"
)

// ErrModelNotFound is returned by Registry.Get for an unknown uid.
var ErrModelNotFound = errors.New("metadata: model not found")

// Registry holds models in registration order.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Model
	order  []*Model
}

// NewRegistry returns a registry holding the given models.
func NewRegistry(models ...*Model) (*Registry, error) {
	r := &Registry{models: make(map[string]*Model, len(models))}
	for _, m := range models {
		if err := r.Add(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers a model. A model without a table name gets the default one.
func (r *Registry) Add(m *Model) error {
	if m == nil || m.UID == "" {
		return errors.New("metadata: model uid is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.models == nil {
		r.models = make(map[string]*Model)
	}
	if _, ok := r.models[m.UID]; ok {
		return fmt.Errorf("metadata: duplicate model %q", m.UID)
	}
	if m.TableName == "" {
		m.TableName = DefaultTableName(m.UID)
	}
	r.models[m.UID] = m
	r.order = append(r.order, m)
	return nil
}

// Get returns the model registered under uid.
func (r *Registry) Get(uid string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[uid]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrModelNotFound, uid)
	}
	return m, nil
}

// Values returns the models in registration order.
func (r *Registry) Values() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Model(nil), r.order...)
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
