package repository

import (
	"fmt"
	"strings"
)

const (
	DefaultLimit = 100
	MaxLimit     = 100
)

// ListParams carries pagination and ordering shared by list endpoints.
// SortBy must be one of the keys a store whitelists; anything else falls
// back to that store's default column.
type ListParams struct {
	Skip      int
	Limit     int
	SortBy    string
	SortOrder string
}

func (p ListParams) limit() int {
	if p.Limit <= 0 || p.Limit > MaxLimit {
		return DefaultLimit
	}
	return p.Limit
}

func (p ListParams) offset() int {
	if p.Skip < 0 {
		return 0
	}
	return p.Skip
}

// orderBy maps a user supplied sort key to a whitelisted column.
func (p ListParams) orderBy(columns map[string]string, defCol, defDir string) string {
	col, ok := columns[p.SortBy]
	if !ok {
		col = columns[defCol]
	}
	dir := strings.ToUpper(p.SortOrder)
	if dir != "ASC" && dir != "DESC" {
		dir = strings.ToUpper(defDir)
	}
	return fmt.Sprintf(" ORDER BY %s %s", col, dir)
}

func (p ListParams) page() (string, []any) {
	return " LIMIT ? OFFSET ?", []any{p.limit(), p.offset()}
}
