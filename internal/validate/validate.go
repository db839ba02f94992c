// Package validate collects field-level validation failures so handlers can
// report all of them at once.
package validate

import (
	"sort"
	"strings"
)

// Errors maps a field name to the reason it was rejected.
type Errors map[string]string

// Add records the first failure for field.
func (e Errors) Add(field, reason string) {
	if _, exists := e[field]; exists {
		return
	}
	e[field] = reason
}

// Err returns nil when no failures were recorded.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+e[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
