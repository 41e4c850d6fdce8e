package db

import (
	"fmt"
	"strings"
)

// SearchQuery builds a filtered, paged SELECT and its matching COUNT. Column
// names are trusted input; values always travel as positional arguments.
type SearchQuery struct {
	table   string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

func NewSearchQuery(table, cols string) *SearchQuery {
	return &SearchQuery{table: table, cols: cols, idx: 1}
}

// Where appends a fragment without arguments (without leading "AND").
func (q *SearchQuery) Where(clause string) {
	q.where += " AND " + clause
}

func (q *SearchQuery) Eq(column string, value interface{}) {
	q.add(column+" = $%d", value)
}

// Contains adds a case-insensitive substring match.
func (q *SearchQuery) Contains(column, value string) {
	q.add(column+" ILIKE '%%' || $%d || '%%'", escapeLike(value))
}

func (q *SearchQuery) OnOrAfter(column string, value interface{}) {
	q.add(column+" >= $%d", value)
}

func (q *SearchQuery) OnOrBefore(column string, value interface{}) {
	q.add(column+" <= $%d", value)
}

func (q *SearchQuery) Less(column string, value interface{}) {
	q.add(column+" < $%d", value)
}

func (q *SearchQuery) add(format string, value interface{}) {
	q.where += " AND " + fmt.Sprintf(format, q.idx)
	q.args = append(q.args, value)
	q.idx++
}

// OrderBy sets the ORDER BY clause (without the "ORDER BY" keyword).
func (q *SearchQuery) OrderBy(orderBy string) {
	q.orderBy = orderBy
}

func (q *SearchQuery) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

// GroupCountSQL counts matching rows per distinct value of column.
func (q *SearchQuery) GroupCountSQL(column string) string {
	return fmt.Sprintf("SELECT %s, COUNT(*) FROM %s WHERE 1=1%s GROUP BY %s", column, q.table, q.where, column)
}

func (q *SearchQuery) CountArgs() []interface{} {
	return q.args
}

// DataSQL returns the data query with ORDER BY and LIMIT/OFFSET.
func (q *SearchQuery) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql + fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
}

func (q *SearchQuery) DataArgs(limit, offset int) []interface{} {
	result := make([]interface{}, len(q.args)+2)
	copy(result, q.args)
	result[len(q.args)] = limit
	result[len(q.args)+1] = offset
	return result
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
