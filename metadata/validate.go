package metadata

import (
	"errors"

	"github.com/syssam/quarry"
)

// Validate checks the relations of every registered model. Bidirectional
// relations must point at an existing relation attribute of their target,
// and join tables must name both of their columns. A unidirectional
// relation to an unknown target is accepted.
func Validate(r *Registry) error {
	var errs []error
	for _, m := range r.Values() {
		for _, a := range m.Attributes {
			if !a.IsRelation() {
				continue
			}
			if err := validateRelation(r, m, a); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func validateRelation(r *Registry, m *Model, a *Attribute) error {
	if a.InversedBy != "" && a.MappedBy != "" {
		return quarry.NewInvalidRelationError("%s.%s: inversedBy and mappedBy are exclusive", m.UID, a.Name)
	}
	if jt := a.JoinTable; jt != nil {
		if jt.Name == "" {
			return quarry.NewInvalidRelationError("%s.%s: join table name is required", m.UID, a.Name)
		}
		if jt.JoinColumn.Name == "" || jt.InverseJoinColumn.Name == "" {
			return quarry.NewInvalidRelationError("%s.%s: join table %q must name its join columns", m.UID, a.Name, jt.Name)
		}
	}
	inverse := a.InversedBy
	if inverse == "" {
		inverse = a.MappedBy
	}
	if inverse == "" {
		return nil
	}
	target, err := r.Get(a.Target)
	if err != nil {
		return quarry.NewInvalidRelationError("%s.%s: target %q not found", m.UID, a.Name, a.Target)
	}
	other, ok := target.Attribute(inverse)
	if !ok || !other.IsRelation() {
		return quarry.NewInvalidRelationError("%s.%s: %q is not a relation of %q", m.UID, a.Name, inverse, a.Target)
	}
	return nil
}
