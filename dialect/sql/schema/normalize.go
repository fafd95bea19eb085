package schema

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var upperCaser = cases.Upper(language.Und)

// upper normalizes a referential action such as "cascade" or "set null".
func upper(s string) string {
	return upperCaser.String(strings.TrimSpace(s))
}

// rootType returns the lower-cased first token of a raw column type:
// "VARCHAR(255)" and "character varying" give "varchar" and "character".
func rootType(raw string) string {
	f := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return r == '(' || r == ')' || r == ',' || r == ' '
	})
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// typeLength returns the first numeric argument of a raw column type, or 0.
func typeLength(raw string) int {
	i := strings.IndexByte(raw, '(')
	if i < 0 {
		return 0
	}
	n := 0
	for _, r := range raw[i+1:] {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func specific(raw string) (string, []any) {
	return TypeSpecificType, []any{raw}
}
