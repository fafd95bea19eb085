package repair

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/metadata"
	"github.com/syssam/quarry/transaction"
)

// deleteError marks a failure deleting the ghost relations of one join
// table. It is logged and does not stop the run.
type deleteError struct{ err error }

func (e *deleteError) Error() string { return e.err.Error() }
func (e *deleteError) Unwrap() error { return e.err }

// joinRow is a join table row with the publication state of its target.
type joinRow struct {
	id     int64
	source int64
	target int64
	draft  bool
}

// unidirectionalRun holds the state of one RemoveOrphanUnidirectionalRelations call.
type unidirectionalRun struct {
	*Repairer
	components  []componentsTable
	publishable map[string]bool // tables holding a published_at column
	drafts      map[string]bool // draft and publish checks done so far
}

// RemoveOrphanUnidirectionalRelations deletes ghost relations from the join
// tables of unidirectional relations and returns the number of deleted rows.
//
// A source row linked to both the draft and the published version of one
// document keeps the draft link; the published link is the ghost. Relations
// targeting a table without drafts are left untouched, and so are the
// relations of a component whose parent table has none.
func (r *Repairer) RemoveOrphanUnidirectionalRelations(ctx context.Context) (int, error) {
	r.log.Debug("Removing orphan unidirectional relations")
	run, err := r.newUnidirectionalRun(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, m := range r.reg.Values() {
		for _, a := range m.Attributes {
			if !a.IsUnidirectional() || a.JoinTable == nil || a.Target == "" {
				continue
			}
			target, err := r.reg.Get(a.Target)
			if err != nil {
				r.log.Debug(fmt.Sprintf(`Skipping relation "%s" of "%s": target "%s" not found`, a.Name, m.UID, a.Target))
				continue
			}
			n, err := run.repairJoinTable(ctx, m, a, target)
			var derr *deleteError
			switch {
			case errors.As(err, &derr):
				r.log.Error(fmt.Sprintf(`Failed to delete ghost relations from join table "%s"`, a.JoinTable.Name), zap.Error(err))
				r.observeFailure(OpUnidirectional)
			case err != nil:
				return total, err
			default:
				total += n
			}
		}
	}
	r.log.Debug(fmt.Sprintf("Removed %d orphan unidirectional relations", total))
	return total, nil
}

func (r *Repairer) newUnidirectionalRun(ctx context.Context) (*unidirectionalRun, error) {
	components, err := r.componentsTables(ctx)
	if err != nil {
		return nil, err
	}
	run := &unidirectionalRun{
		Repairer:    r,
		components:  components,
		publishable: make(map[string]bool),
		drafts:      make(map[string]bool),
	}
	// Columns are read up front: the inspector does not share the
	// transaction of a join table.
	for _, m := range r.reg.Values() {
		if _, ok := run.publishable[m.TableName]; ok {
			continue
		}
		has, err := r.insp.HasColumn(ctx, m.TableName, metadata.ColumnPublishedAt)
		if err != nil {
			return nil, fmt.Errorf("repair: checking column %q of %q: %w", metadata.ColumnPublishedAt, m.TableName, err)
		}
		run.publishable[m.TableName] = has
	}
	return run, nil
}

// repairJoinTable deletes the ghost relations of one attribute.
func (run *unidirectionalRun) repairJoinTable(ctx context.Context, m *metadata.Model, a *metadata.Attribute, target *metadata.Model) (int, error) {
	jt := a.JoinTable.Name
	ok, err := run.draftAndPublish(ctx, target.TableName)
	if err != nil {
		return 0, err
	}
	if !ok {
		run.log.Debug(fmt.Sprintf(`Skipping join table "%s": target table "%s" does not support draft and publish`, jt, target.TableName))
		return 0, nil
	}
	var (
		n       int
		deleted bool
	)
	clean := func(ctx context.Context) error {
		ids, err := run.ghostRelations(ctx, m, a, target)
		if err != nil || len(ids) == 0 {
			return err
		}
		n = 0
		for batch := range slices.Chunk(ids, run.batchSize) {
			q := run.builder().Delete(jt).Schema(run.schema).Where(sql.In("id", batch...))
			affected, err := run.exec(ctx, q)
			if err != nil {
				return &deleteError{err: err}
			}
			n += affected
		}
		deleted = true
		return nil
	}
	if run.txPerJoinTable {
		err = run.tm.Run(ctx, func(ctx context.Context, _ *transaction.Context) error { return clean(ctx) })
	} else {
		err = clean(ctx)
	}
	if err != nil {
		return 0, err
	}
	if deleted {
		run.log.Debug(fmt.Sprintf(`Deleted %d ghost relations from join table "%s"`, n, jt))
		run.observeDeleted(OpUnidirectional, n)
	}
	return n, nil
}

// ghostRelations returns the ids of the join rows linking a source to the
// published version of a document when the same source is also linked to
// its draft.
func (run *unidirectionalRun) ghostRelations(ctx context.Context, m *metadata.Model, a *metadata.Attribute, target *metadata.Model) ([]any, error) {
	jt := a.JoinTable
	ref := referenced(jt.InverseJoinColumn)
	j, t := run.table(jt.Name).As("j"), run.table(target.TableName).As("t")
	q := run.builder().
		Select(
			sql.As(j.C("id"), "join_id"),
			sql.As(j.C(jt.JoinColumn.Name), "source_id"),
			sql.As(j.C(jt.InverseJoinColumn.Name), "target_id"),
			sql.As(t.C(metadata.ColumnPublishedAt), "target_published_at"),
		).
		From(j).
		LeftJoin(t).On(j.C(jt.InverseJoinColumn.Name), t.C(ref)).
		OrderBy(j.C("id"))
	rows, err := run.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("repair: reading join table %q: %w", jt.Name, err)
	}
	var (
		sources []int64
		groups  = make(map[int64][]joinRow)
	)
	for rows.Next() {
		var (
			id          int64
			src, dst    sql.NullInt64
			publishedAt any
		)
		if err := rows.Scan(&id, &src, &dst, &publishedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("repair: scanning join table %q: %w", jt.Name, err)
		}
		if !src.Valid || !dst.Valid {
			continue
		}
		if _, ok := groups[src.Int64]; !ok {
			sources = append(sources, src.Int64)
		}
		groups[src.Int64] = append(groups[src.Int64], joinRow{
			id:     id,
			source: src.Int64,
			target: dst.Int64,
			draft:  publishedAt == nil,
		})
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return nil, fmt.Errorf("repair: reading join table %q: %w", jt.Name, err)
	}

	var (
		ids    []any
		marked = make(map[int64]bool)
	)
	for _, source := range sources {
		group := groups[source]
		if len(group) < 2 {
			continue
		}
		if m.IsComponent() {
			ok, err := run.parentDraftAndPublish(ctx, m, jt.Name, source)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		for _, row := range group {
			if !row.draft {
				continue
			}
			published, ok, err := run.publishedSibling(ctx, target, ref, row.target)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			for _, other := range group {
				if other.target == published && !marked[other.id] {
					marked[other.id] = true
					ids = append(ids, other.id)
				}
			}
		}
	}
	return ids, nil
}

// parentDraftAndPublish reports if the parent owning a component instance
// is stored in a draft and publish table.
func (run *unidirectionalRun) parentDraftAndPublish(ctx context.Context, m *metadata.Model, jt string, source int64) (bool, error) {
	parent, err := run.findComponentParent(ctx, run.components, m.UID, source)
	if err != nil {
		return false, err
	}
	if parent == nil {
		run.log.Debug(fmt.Sprintf(`Skipping source %d of join table "%s": component parent not found`, source, jt))
		return false, nil
	}
	ok, err := run.draftAndPublish(ctx, parent.Table)
	if err != nil {
		return false, err
	}
	if !ok {
		run.log.Debug(fmt.Sprintf(`Skipping source %d of join table "%s": parent table "%s" does not support draft and publish`, source, jt, parent.Table))
	}
	return ok, nil
}

// publishedSibling returns the id of the published row sharing the
// document of the draft row id.
func (run *unidirectionalRun) publishedSibling(ctx context.Context, target *metadata.Model, ref string, id int64) (int64, bool, error) {
	var doc sql.NullString
	found, err := run.first(ctx,
		run.builder().
			Select(metadata.ColumnDocumentID).
			From(run.table(target.TableName)).
			Where(sql.EQ(ref, id)),
		&doc,
	)
	if err != nil {
		return 0, false, fmt.Errorf("repair: reading document of %q row %d: %w", target.TableName, id, err)
	}
	if !found || !doc.Valid {
		return 0, false, nil
	}
	var published int64
	found, err = run.first(ctx,
		run.builder().
			Select(ref).
			From(run.table(target.TableName)).
			Where(sql.EQ(metadata.ColumnDocumentID, doc.String)).
			Where(sql.NotNull(metadata.ColumnPublishedAt)),
		&published,
	)
	if err != nil {
		return 0, false, fmt.Errorf("repair: reading published version of document %q: %w", doc.String, err)
	}
	return published, found, nil
}

// draftAndPublish reports if table has a published_at column and holds at
// least one draft row.
func (run *unidirectionalRun) draftAndPublish(ctx context.Context, table string) (bool, error) {
	if v, ok := run.drafts[table]; ok {
		return v, nil
	}
	has, ok := run.publishable[table]
	if !ok {
		var err error
		if has, err = run.insp.HasColumn(ctx, table, metadata.ColumnPublishedAt); err != nil {
			return false, fmt.Errorf("repair: checking column %q of %q: %w", metadata.ColumnPublishedAt, table, err)
		}
		run.publishable[table] = has
	}
	if has {
		var publishedAt any
		found, err := run.first(ctx,
			run.builder().
				Select(metadata.ColumnPublishedAt).
				From(run.table(table)).
				Where(sql.IsNull(metadata.ColumnPublishedAt)),
			&publishedAt,
		)
		if err != nil {
			return false, fmt.Errorf("repair: reading drafts of %q: %w", table, err)
		}
		has = found
	}
	run.drafts[table] = has
	return has, nil
}

// referenced returns the column referenced by a join column.
func referenced(c metadata.JoinColumn) string {
	if c.ReferencedColumn != "" {
		return c.ReferencedColumn
	}
	return "id"
}
