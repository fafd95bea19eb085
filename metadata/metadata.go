// Package metadata describes content models and their relations as consumed
// by the maintenance operations.
package metadata

import (
	"slices"
	"strings"
)

// Attribute types.
const (
	TypeRelation  = "relation"
	TypeComponent = "component"
	TypeDynamic   = "dynamiczone"
)

// Relation kinds.
const (
	OneToOne    = "oneToOne"
	OneToMany   = "oneToMany"
	ManyToOne   = "manyToOne"
	ManyToMany  = "manyToMany"
	MorphToOne  = "morphToOne"
	MorphToMany = "morphToMany"
	MorphOne    = "morphOne"
	MorphMany   = "morphMany"
)

// Columns shared by every draft and publish enabled table.
const (
	ColumnPublishedAt = "published_at"
	ColumnDocumentID  = "document_id"
)

// ComponentsTableSuffix is appended to a table name to get the table
// linking its rows to their components.
const ComponentsTableSuffix = "_cmps"

// Columns of a components table.
const (
	ColumnEntityID      = "entity_id"
	ColumnComponentID   = "cmp_id"
	ColumnComponentType = "component_type"
)

type (
	// Model is a content type or a component stored in one table.
	Model struct {
		UID        string       `yaml:"uid"`
		TableName  string       `yaml:"tableName"`
		Attributes []*Attribute `yaml:"-"`
	}

	// Attribute describes a model attribute. Relation attributes carry the
	// relation kind, their target model and, when stored in a join table,
	// its description.
	Attribute struct {
		Name       string     `yaml:"-"`
		Type       string     `yaml:"type"`
		Relation   string     `yaml:"relation,omitempty"`
		Target     string     `yaml:"target,omitempty"`
		InversedBy string     `yaml:"inversedBy,omitempty"`
		MappedBy   string     `yaml:"mappedBy,omitempty"`
		Component  string     `yaml:"component,omitempty"`
		JoinTable  *JoinTable `yaml:"joinTable,omitempty"`
	}

	// JoinTable describes the table implementing a relation.
	JoinTable struct {
		Name              string     `yaml:"name"`
		JoinColumn        JoinColumn `yaml:"joinColumn"`
		InverseJoinColumn JoinColumn `yaml:"inverseJoinColumn"`
		PivotColumns      []string   `yaml:"pivotColumns,omitempty"`
	}

	// JoinColumn is a foreign key column of a join table.
	JoinColumn struct {
		Name             string `yaml:"name"`
		ReferencedColumn string `yaml:"referencedColumn"`
	}
)

// Attribute returns the attribute with the given name.
func (m *Model) Attribute(name string) (*Attribute, bool) {
	i := slices.IndexFunc(m.Attributes, func(a *Attribute) bool { return a.Name == name })
	if i < 0 {
		return nil, false
	}
	return m.Attributes[i], true
}

// IsComponent reports if the model is a component.
func (m *Model) IsComponent() bool { return IsComponent(m.UID) }

// ComponentsTable returns the name of the table linking the model rows to
// their components.
func (m *Model) ComponentsTable() string { return m.TableName + ComponentsTableSuffix }

// IsComponent reports if uid identifies a component: it is neither an api::
// nor a plugin:: uid and holds a category separated by a dot.
func IsComponent(uid string) bool {
	return !strings.HasPrefix(uid, "api::") &&
		!strings.HasPrefix(uid, "plugin::") &&
		strings.Contains(uid, ".")
}

// IsRelation reports if the attribute is a relation.
func (a *Attribute) IsRelation() bool { return a.Type == TypeRelation }

// IsUnidirectional reports if the attribute is a relation without inverse
// navigation.
func (a *Attribute) IsUnidirectional() bool {
	return a.IsRelation() && a.InversedBy == "" && a.MappedBy == ""
}

// IsMorph reports if the attribute is a polymorphic relation.
func (a *Attribute) IsMorph() bool {
	if !a.IsRelation() {
		return false
	}
	switch a.Relation {
	case MorphToOne, MorphToMany, MorphOne, MorphMany:
		return true
	}
	return false
}

// HasPivot reports if the join table of the attribute holds the column.
func (a *Attribute) HasPivot(column string) bool {
	return a.JoinTable != nil && slices.Contains(a.JoinTable.PivotColumns, column)
}
