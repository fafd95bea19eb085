package quarry

import (
	"regexp"
	"strconv"
	"time"
)

var (
	dateRe = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	timeRe = regexp.MustCompile(`^(\d{2}):(\d{2})(?::(\d{2})(?:\.(\d{1,3}))?)?$`)
)

// ParseDate parses a date column value in the YYYY-MM-DD form.
// It returns an *InvalidDateError for anything else.
func ParseDate(v string) (time.Time, error) {
	if !dateRe.MatchString(v) {
		return time.Time{}, &InvalidDateError{Value: v}
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, &InvalidDateError{Value: v}
	}
	return t, nil
}

// ParseTime parses a time column value (HH:mm, HH:mm:ss or HH:mm:ss.SSS) and
// returns it normalized to HH:mm:ss.SSS.
func ParseTime(v string) (string, error) {
	m := timeRe.FindStringSubmatch(v)
	if m == nil {
		return "", &InvalidTimeError{Value: v}
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	s := 0
	if m[3] != "" {
		s, _ = strconv.Atoi(m[3])
	}
	if h > 23 || mi > 59 || s > 59 {
		return "", &InvalidTimeError{Value: v}
	}
	ms := m[4]
	for len(ms) < 3 {
		ms += "0"
	}
	return m[1] + ":" + m[2] + ":" + twoDigits(s) + "." + ms, nil
}

// ParseDateTime parses a datetime column value. RFC 3339 strings, bare dates
// and unix millisecond timestamps are accepted; the result is in UTC.
func ParseDateTime(v any) (time.Time, error) {
	switch v := v.(type) {
	case time.Time:
		return v.UTC(), nil
	case int64:
		return time.UnixMilli(v).UTC(), nil
	case int:
		return time.UnixMilli(int64(v)).UTC(), nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), nil
			}
		}
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
	}
	return time.Time{}, &InvalidDateTimeError{Value: v}
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
