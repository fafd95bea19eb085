package schema

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Table   string
	Column  string
	Message string
	// Breaking indicates if this is a breaking change.
	Breaking bool
}

func (e *ValidationError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s.%s: %s", e.Table, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

// ValidationResult holds the results of schema validation.
type ValidationResult struct {
	Errors   []*ValidationError
	Warnings []*ValidationError
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings.
func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// HasBreakingChanges returns true if there are any breaking changes.
func (r *ValidationResult) HasBreakingChanges() bool {
	breaking := func(e *ValidationError) bool { return e.Breaking }
	return slices.ContainsFunc(r.Errors, breaking) || slices.ContainsFunc(r.Warnings, breaking)
}

// String returns a human-readable summary of the validation result.
func (r *ValidationResult) String() string {
	var sb strings.Builder
	write := func(title string, list []*ValidationError) {
		if len(list) == 0 {
			return
		}
		sb.WriteString(title + ":\n")
		for _, e := range list {
			sb.WriteString("  - " + e.Error())
			if e.Breaking {
				sb.WriteString(" [BREAKING]")
			}
			sb.WriteString("\n")
		}
	}
	write("Errors", r.Errors)
	write("Warnings", r.Warnings)
	if !r.HasErrors() && !r.HasWarnings() {
		sb.WriteString("No issues found")
	}
	return sb.String()
}

func (r *ValidationResult) report(allowed bool, e *ValidationError) {
	if allowed {
		r.Warnings = append(r.Warnings, e)
	} else {
		r.Errors = append(r.Errors, e)
	}
}

// ValidateOption configures schema validation.
type ValidateOption func(*validateConfig)

type validateConfig struct {
	allowDropColumn    bool
	allowDropTable     bool
	allowDropIndex     bool
	allowNullToNotNull bool
}

// AllowDropColumn reports dropped columns as warnings.
func AllowDropColumn() ValidateOption {
	return func(c *validateConfig) {
		c.allowDropColumn = true
	}
}

// AllowDropTable reports dropped tables as warnings.
func AllowDropTable() ValidateOption {
	return func(c *validateConfig) {
		c.allowDropTable = true
	}
}

// AllowDropIndex reports dropped indexes as warnings.
func AllowDropIndex() ValidateOption {
	return func(c *validateConfig) {
		c.allowDropIndex = true
	}
}

// AllowNullToNotNull reports nullable columns becoming NOT NULL as warnings.
func AllowNullToNotNull() ValidateOption {
	return func(c *validateConfig) {
		c.allowNullToNotNull = true
	}
}

// AllowAll reports every drift as a warning.
func AllowAll() ValidateOption {
	return func(c *validateConfig) {
		*c = validateConfig{true, true, true, true}
	}
}

// Compare reports the drift between a previously stored snapshot and the
// current one. A nil previous snapshot has no drift.
//
//	result := schema.Compare(stored, live)
//	if result.HasErrors() {
//	    return fmt.Errorf("schema drift:\n%s", result)
//	}
func Compare(previous, current *Schema, opts ...ValidateOption) *ValidationResult {
	cfg := &validateConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	result := &ValidationResult{}
	if previous == nil || current == nil {
		return result
	}
	for _, prev := range previous.Tables {
		cur, ok := current.Table(prev.Name)
		if !ok {
			result.report(cfg.allowDropTable, &ValidationError{
				Table:    prev.Name,
				Message:  "table was dropped",
				Breaking: true,
			})
			continue
		}
		compareTable(prev, cur, cfg, result)
	}
	return result
}

func compareTable(prev, cur *Table, cfg *validateConfig, result *ValidationResult) {
	for _, pc := range prev.Columns {
		cc, ok := cur.Column(pc.Name)
		if !ok {
			result.report(cfg.allowDropColumn, &ValidationError{
				Table:    prev.Name,
				Column:   pc.Name,
				Message:  "column was dropped",
				Breaking: true,
			})
			continue
		}
		if pc.Type != cc.Type {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   prev.Name,
				Column:  pc.Name,
				Message: fmt.Sprintf("column type changed from %s to %s", pc.Type, cc.Type),
			})
		}
		if !pc.NotNullable && cc.NotNullable {
			result.report(cfg.allowNullToNotNull, &ValidationError{
				Table:    prev.Name,
				Column:   pc.Name,
				Message:  "column changed from NULL to NOT NULL",
				Breaking: true,
			})
		}
	}
	for _, pc := range cur.Columns {
		if _, ok := prev.Column(pc.Name); !ok && pc.NotNullable && pc.DefaultTo == nil {
			result.Warnings = append(result.Warnings, &ValidationError{
				Table:   cur.Name,
				Column:  pc.Name,
				Message: "new NOT NULL column without default value",
			})
		}
	}
	for _, idx := range prev.Indexes {
		found := slices.ContainsFunc(cur.Indexes, func(i *Index) bool { return i.Name == idx.Name })
		if !found {
			result.report(cfg.allowDropIndex, &ValidationError{
				Table:   prev.Name,
				Message: fmt.Sprintf("index %q was dropped", idx.Name),
			})
		}
	}
}

// ValidateSchema checks the internal consistency of a snapshot: unique
// table, column and index names, and index and foreign key references.
func ValidateSchema(s *Schema) *ValidationResult {
	result := &ValidationResult{}
	tables := make(map[string]bool, len(s.Tables))
	for _, t := range s.Tables {
		if tables[t.Name] {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name,
				Message: "duplicate table name",
			})
		}
		tables[t.Name] = true
		validateTable(t, result)
	}
	for _, t := range s.Tables {
		for _, fk := range t.ForeignKeys {
			if !tables[fk.ReferencedTable] {
				result.Errors = append(result.Errors, &ValidationError{
					Table:   t.Name,
					Message: fmt.Sprintf("foreign key %q references non-existent table %q", fk.Name, fk.ReferencedTable),
				})
			}
		}
	}
	return result
}

func validateTable(t *Table, result *ValidationResult) {
	columns := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if columns[c.Name] {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name,
				Column:  c.Name,
				Message: "duplicate column name",
			})
		}
		columns[c.Name] = true
	}
	indexes := make(map[string]bool, len(t.Indexes))
	for _, idx := range t.Indexes {
		if indexes[idx.Name] {
			result.Errors = append(result.Errors, &ValidationError{
				Table:   t.Name,
				Message: fmt.Sprintf("duplicate index name: %s", idx.Name),
			})
		}
		indexes[idx.Name] = true
		for _, c := range idx.Columns {
			if !columns[c] {
				result.Errors = append(result.Errors, &ValidationError{
					Table:   t.Name,
					Message: fmt.Sprintf("index %q references non-existent column %q", idx.Name, c),
				})
			}
		}
	}
	for _, fk := range t.ForeignKeys {
		for _, c := range fk.Columns {
			if !columns[c] {
				result.Errors = append(result.Errors, &ValidationError{
					Table:   t.Name,
					Message: fmt.Sprintf("foreign key %q references non-existent column %q", fk.Name, c),
				})
			}
		}
	}
}
