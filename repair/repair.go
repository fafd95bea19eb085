// Package repair removes relation rows left inconsistent by draft and
// publish duality or by deleted models.
//
// Both operations only delete join table rows. Failures deleting the rows of
// one join table (or of one morph type value) are logged and do not stop the
// run; failures reading the rows do.
package repair

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/dialect/sql/schema"
	"github.com/syssam/quarry/metadata"
	"github.com/syssam/quarry/transaction"
)

// DefaultMorphPivot is the pivot column holding the type of the morph
// relation rows linking entities to their components.
const DefaultMorphPivot = metadata.ColumnComponentType

// defaultBatchSize keeps batch deletes below the bind parameter limits of
// every backend.
const defaultBatchSize = 1000

// Operation labels of the repair metrics.
const (
	OpUnidirectional = "unidirectional_relations"
	OpMorphTypes     = "morph_types"
)

// Repairer runs maintenance operations over the tables of a registry.
type Repairer struct {
	reg            *metadata.Registry
	tm             *transaction.Manager
	insp           schema.Inspector
	log            *zap.Logger
	schema         string
	txPerJoinTable bool
	batchSize      int
	deleted        *prometheus.CounterVec
	failures       *prometheus.CounterVec
}

// Option configures a Repairer.
type Option func(*Repairer)

// WithLogger sets the logger receiving the repair decisions.
func WithLogger(l *zap.Logger) Option {
	return func(r *Repairer) {
		if l != nil {
			r.log = l
		}
	}
}

// WithSchema qualifies every table with the given database schema.
func WithSchema(name string) Option {
	return func(r *Repairer) { r.schema = name }
}

// WithTxPerJoinTable wraps the detection and the deletion of the ghost
// relations of each join table in one transaction.
func WithTxPerJoinTable() Option {
	return func(r *Repairer) { r.txPerJoinTable = true }
}

// WithDeleteBatchSize bounds the number of rows deleted by one statement.
// Default is 1000.
func WithDeleteBatchSize(n int) Option {
	return func(r *Repairer) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithMetrics registers the repair counters on reg:
//
//	quarry_repair_deleted_rows_total{operation}
//	quarry_repair_failures_total{operation}
func WithMetrics(reg prometheus.Registerer) Option {
	return func(r *Repairer) {
		if reg == nil {
			return
		}
		f := promauto.With(reg)
		r.deleted = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quarry",
			Subsystem: "repair",
			Name:      "deleted_rows_total",
			Help:      "Total number of join table rows deleted by repair operations.",
		}, []string{"operation"})
		r.failures = f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quarry",
			Subsystem: "repair",
			Name:      "failures_total",
			Help:      "Total number of isolated deletion failures of repair operations.",
		}, []string{"operation"})
	}
}

// New returns a Repairer reading models from reg. Statements run on the
// connection of tm, inside the transaction of the context when there is one.
func New(reg *metadata.Registry, tm *transaction.Manager, insp schema.Inspector, opts ...Option) *Repairer {
	r := &Repairer{reg: reg, tm: tm, insp: insp, log: zap.NewNop(), batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report holds the number of rows deleted by RunAll.
type Report struct {
	UnidirectionalRelations int `json:"unidirectional_relations" yaml:"unidirectional_relations"`
	MorphTypes              int `json:"morph_types" yaml:"morph_types"`
}

// Total returns the number of deleted rows.
func (r *Report) Total() int { return r.UnidirectionalRelations + r.MorphTypes }

// RunAll removes ghost unidirectional relations, then the morph relation
// rows whose pivot value names an unknown model. An empty pivot defaults to
// DefaultMorphPivot.
func (r *Repairer) RunAll(ctx context.Context, pivot string) (*Report, error) {
	if pivot == "" {
		pivot = DefaultMorphPivot
	}
	var (
		rep Report
		err error
	)
	if rep.UnidirectionalRelations, err = r.RemoveOrphanUnidirectionalRelations(ctx); err != nil {
		return &rep, err
	}
	if rep.MorphTypes, err = r.RemoveOrphanMorphTypes(ctx, pivot); err != nil {
		return &rep, err
	}
	return &rep, nil
}

func (r *Repairer) builder() *sql.DialectBuilder {
	return sql.Dialect(r.tm.Dialect().Name())
}

func (r *Repairer) table(name string) *sql.SelectTable {
	return sql.Table(name).Schema(r.schema)
}

func (r *Repairer) query(ctx context.Context, q sql.Querier) (*sql.Rows, error) {
	query, args := q.Query()
	rows := &sql.Rows{}
	if err := r.tm.Conn(ctx).Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repairer) exec(ctx context.Context, q sql.Querier) (int, error) {
	query, args := q.Query()
	var res sql.Result
	if err := r.tm.Conn(ctx).Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return sql.RowsAffected(res)
}

// first scans the first row of q into dest. It reports false when the
// query returns no rows.
func (r *Repairer) first(ctx context.Context, q *sql.Selector, dest ...any) (bool, error) {
	rows, err := r.query(ctx, q.Limit(1))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return false, rows.Err()
	}
	if err := rows.Scan(dest...); err != nil {
		return false, fmt.Errorf("repair: scan: %w", err)
	}
	return true, rows.Close()
}

func (r *Repairer) observeDeleted(op string, n int) {
	if r.deleted != nil && n > 0 {
		r.deleted.WithLabelValues(op).Add(float64(n))
	}
}

func (r *Repairer) observeFailure(op string) {
	if r.failures != nil {
		r.failures.WithLabelValues(op).Inc()
	}
}
