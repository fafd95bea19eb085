package dialect

import (
	"errors"
	"regexp"
	"strings"
)

// sqlStateError is implemented by errors exposing a SQLSTATE code.
// Implemented by: pq.Error, pgconn.PgError.
type sqlStateError interface {
	SQLState() string
}

// SQLSTATE and MySQL error numbers translated by the dialects.
const (
	pgNotNullViolation = "23502"
	mysqlBadNullError  = 1048
)

var (
	mysqlNullColumnRe  = regexp.MustCompile(`Column '([^']+)' cannot be null`)
	sqliteNullColumnRe = regexp.MustCompile(`NOT NULL constraint failed: ([\w."]+)`)
	pgNullColumnRe     = regexp.MustCompile(`null value in column "([^"]+)"`)
)

// asError attempts to extract an error implementing T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// submatch returns the first capture group of re in s.
func submatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return ""
}

// lastIdent returns the column part of a possibly qualified identifier.
func lastIdent(s string) string {
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return strings.Trim(s, `"`)
}
