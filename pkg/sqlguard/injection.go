// Package sqlguard detects SQL injection patterns in filter values.
//
// Detection is report-only. Every filter value reaches the database as a bind
// parameter, so a detected pattern cannot escape its placeholder; findings are
// surfaced to the security audit log for alerting, not used to reject requests.
package sqlguard

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// Finding describes a filter value that matched a SQL injection pattern.
type Finding struct {
	Field       string // filter field the value was bound to
	Value       string // the offending value
	Fingerprint string // libinjection fingerprint of the detected pattern
}

// CheckValue runs libinjection over a single filter value.
//
// Only string values are checked - numbers, booleans, and other types cannot
// contain SQL injection patterns and return nil.
func CheckValue(field string, value any) *Finding {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if !isSQLi {
		return nil
	}
	return &Finding{
		Field:       field,
		Value:       strValue,
		Fingerprint: string(fingerprint),
	}
}

// ScanValues checks every value in a filter set, descending into slice values
// so each element of an `in` list is inspected individually.
//
// Returns one Finding per offending value; an empty result means all values
// are clean.
func ScanValues(values map[string]any) []*Finding {
	var findings []*Finding
	for field, value := range values {
		switch v := value.(type) {
		case []any:
			for _, elem := range v {
				if f := CheckValue(field, elem); f != nil {
					findings = append(findings, f)
				}
			}
		default:
			if f := CheckValue(field, v); f != nil {
				findings = append(findings, f)
			}
		}
	}
	return findings
}
