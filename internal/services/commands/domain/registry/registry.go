package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
)

var (
	// ErrEntityTypeRequired indicates a descriptor without an entity type.
	ErrEntityTypeRequired = errors.New("descriptor entity type is required")
	// ErrDuplicateEntityType indicates two descriptors for one type.
	ErrDuplicateEntityType = errors.New("entity type already registered")
	// ErrModelRequired indicates a descriptor without a model accessor.
	ErrModelRequired = errors.New("descriptor model is required")
	// ErrValidatorRequired indicates a descriptor without a validator.
	ErrValidatorRequired = errors.New("descriptor validator is required")
	// ErrParentUnregistered indicates a parent type with no descriptor.
	ErrParentUnregistered = errors.New("parent entity type is not registered")
	// ErrParentFieldRequired indicates a parent type without a payload field.
	ErrParentFieldRequired = errors.New("parent field is required when a parent entity type is set")
	// ErrIncomplete indicates an entity type without a registry entry.
	ErrIncomplete = errors.New("registry is missing entity types")
)

// Registry is the immutable entity descriptor table.
type Registry struct {
	descriptors map[command.EntityType]Descriptor
}

// New validates descriptors and builds the table.
func New(descriptors ...Descriptor) (*Registry, error) {
	table := make(map[command.EntityType]Descriptor, len(descriptors))
	for _, d := range descriptors {
		d.EntityType = command.EntityType(strings.TrimSpace(string(d.EntityType)))
		if d.EntityType == "" {
			return nil, ErrEntityTypeRequired
		}
		if _, exists := table[d.EntityType]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEntityType, d.EntityType)
		}
		if d.Model == nil {
			return nil, fmt.Errorf("%w: %s", ErrModelRequired, d.EntityType)
		}
		if d.Validator == nil {
			return nil, fmt.Errorf("%w: %s", ErrValidatorRequired, d.EntityType)
		}
		d.ParentField = strings.TrimSpace(d.ParentField)
		if d.HasParent() && d.ParentField == "" {
			return nil, fmt.Errorf("%w: %s", ErrParentFieldRequired, d.EntityType)
		}
		table[d.EntityType] = d
	}
	for _, d := range table {
		if !d.HasParent() {
			continue
		}
		if _, ok := table[d.ParentEntityType]; !ok {
			return nil, fmt.Errorf("%w: %s -> %s", ErrParentUnregistered, d.EntityType, d.ParentEntityType)
		}
	}
	return &Registry{descriptors: table}, nil
}

// Lookup returns the descriptor for entityType.
func (r *Registry) Lookup(entityType command.EntityType) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	d, ok := r.descriptors[entityType]
	return d, ok
}

// Parent returns the descriptor of d's parent type.
func (r *Registry) Parent(d Descriptor) (Descriptor, bool) {
	if !d.HasParent() {
		return Descriptor{}, false
	}
	return r.Lookup(d.ParentEntityType)
}

// Types returns registered entity types in sorted order.
func (r *Registry) Types() []command.EntityType {
	if r == nil {
		return nil
	}
	types := make([]command.EntityType, 0, len(r.descriptors))
	for t := range r.descriptors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// RequireComplete fails when any of types lacks a descriptor.
func (r *Registry) RequireComplete(types ...command.EntityType) error {
	var missing []string
	for _, t := range types {
		if _, ok := r.Lookup(t); !ok {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrIncomplete, strings.Join(missing, ", "))
	}
	return nil
}
