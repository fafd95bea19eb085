package repair

import (
	"context"
	"fmt"

	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/metadata"
)

// ComponentParent is the entity owning a component instance.
type ComponentParent struct {
	// UID of the parent model.
	UID string
	// Table of the parent model.
	Table string
	// ParentID is the id of the parent row.
	ParentID int64
}

// componentsTable is an existing components table and the model owning it.
type componentsTable struct {
	model *metadata.Model
	name  string
}

// componentsTables returns the existing components tables of the registered
// models, in registration order.
func (r *Repairer) componentsTables(ctx context.Context) ([]componentsTable, error) {
	var tables []componentsTable
	for _, m := range r.reg.Values() {
		name := m.ComponentsTable()
		ok, err := r.insp.HasTable(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("repair: checking table %q: %w", name, err)
		}
		if ok {
			tables = append(tables, componentsTable{model: m, name: name})
		}
	}
	return tables, nil
}

// FindComponentParent returns the entity owning the instance id of the
// component uid, or nil when no components table references it. Every
// registered model is scanned.
func (r *Repairer) FindComponentParent(ctx context.Context, uid string, id int64) (*ComponentParent, error) {
	tables, err := r.componentsTables(ctx)
	if err != nil {
		return nil, err
	}
	return r.findComponentParent(ctx, tables, uid, id)
}

func (r *Repairer) findComponentParent(ctx context.Context, tables []componentsTable, uid string, id int64) (*ComponentParent, error) {
	for _, t := range tables {
		q := r.builder().
			Select(metadata.ColumnEntityID).
			From(r.table(t.name)).
			Where(sql.EQ(metadata.ColumnComponentID, id)).
			Where(sql.EQ(metadata.ColumnComponentType, uid))
		var parentID int64
		found, err := r.first(ctx, q, &parentID)
		if err != nil {
			return nil, fmt.Errorf("repair: reading components table %q: %w", t.name, err)
		}
		if found {
			return &ComponentParent{UID: t.model.UID, Table: t.model.TableName, ParentID: parentID}, nil
		}
	}
	return nil, nil
}
