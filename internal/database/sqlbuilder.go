package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// Excluded references the row proposed for insertion in an upsert
func Excluded(column string) string {
	return fmt.Sprintf("EXCLUDED.%s", column)
}

// NewInsertBuilder returns a PostgreSQL insert builder
func NewInsertBuilder() *sqlbuilder.InsertBuilder {
	return sqlbuilder.PostgreSQL.NewInsertBuilder()
}

// NewSelectBuilder returns a PostgreSQL select builder
func NewSelectBuilder() *sqlbuilder.SelectBuilder {
	return sqlbuilder.PostgreSQL.NewSelectBuilder()
}

// OnConflictUpdate appends an upsert clause that overwrites columns with the
// proposed row
func OnConflictUpdate(ib *sqlbuilder.InsertBuilder, conflict []string, columns ...string) {
	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = fmt.Sprintf("%s = %s", c, Excluded(c))
	}
	ib.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflict, ", "), strings.Join(sets, ", ")))
}

// OnConflictDoNothing appends a clause that skips rows that already exist
func OnConflictDoNothing(ib *sqlbuilder.InsertBuilder, conflict ...string) {
	if len(conflict) == 0 {
		ib.SQL("ON CONFLICT DO NOTHING")
		return
	}
	ib.SQL(fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", strings.Join(conflict, ", ")))
}
