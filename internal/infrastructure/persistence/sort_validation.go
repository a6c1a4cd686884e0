package persistence

import (
	"strings"
)

// ValidateSortOrder validates and normalizes the sort order to ASC or DESC.
// Returns "DESC" as the default if the input is invalid or empty.
func ValidateSortOrder(orderDir string) string {
	normalized := strings.ToUpper(strings.TrimSpace(orderDir))
	if normalized == "ASC" {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField validates the sort field against a whitelist of allowed fields.
// Returns the defaultField if the input is invalid, empty, or not in the whitelist.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed == "" {
		return defaultField
	}
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// PolicySortFields contains allowed sort fields for recognition policies
var PolicySortFields = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
	"name":       true,
	"priority":   true,
	"enabled":    true,
}

// PeriodCloseRunSortFields contains allowed sort fields for period-close runs
var PeriodCloseRunSortFields = map[string]bool{
	"created_at":  true,
	"period_end":  true,
	"started_at":  true,
	"finished_at": true,
	"status":      true,
}

// orderClause builds a whitelisted ORDER BY clause from a filter
func orderClause(orderBy, orderDir string, allowed map[string]bool, defaultField string) string {
	return ValidateSortField(orderBy, allowed, defaultField) + " " + ValidateSortOrder(orderDir)
}
