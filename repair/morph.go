package repair

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/syssam/quarry/dialect/sql"
)

// RemoveOrphanMorphTypes deletes the rows of morph relation join tables
// whose pivot column names a model that is no longer registered, and
// returns the number of deleted rows. Join tables without the pivot column
// are ignored.
func (r *Repairer) RemoveOrphanMorphTypes(ctx context.Context, pivot string) (int, error) {
	r.log.Debug(fmt.Sprintf(`Removing orphan morph type: "%s"`, pivot))
	total := 0
	for _, m := range r.reg.Values() {
		for _, a := range m.Attributes {
			if !a.IsMorph() || !a.HasPivot(pivot) {
				continue
			}
			jt := a.JoinTable.Name
			rows, err := r.query(ctx, r.builder().Select(pivot).Distinct().From(r.table(jt)))
			if err != nil {
				return total, fmt.Errorf("repair: reading morph types of %q: %w", jt, err)
			}
			values, err := sql.ScanStrings(rows)
			if err != nil {
				return total, fmt.Errorf("repair: reading morph types of %q: %w", jt, err)
			}
			for _, v := range values {
				if _, err := r.reg.Get(v); err == nil {
					continue
				}
				r.log.Debug(fmt.Sprintf(`Metadata for morph type "%s" in table "%s" not found`, v, jt))
				r.log.Debug(fmt.Sprintf(`Removing invalid morph type "%s" from table "%s".`, v, jt))
				n, err := r.exec(ctx, r.builder().Delete(jt).Schema(r.schema).Where(sql.EQ(pivot, v)))
				if err != nil {
					r.log.Error(fmt.Sprintf(`Failed to remove invalid morph type "%s" from table "%s"`, v, jt), zap.Error(err))
					r.observeFailure(OpMorphTypes)
					continue
				}
				r.observeDeleted(OpMorphTypes, n)
				total += n
			}
		}
	}
	return total, nil
}
