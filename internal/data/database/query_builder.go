// Package database provides a small SQL list-query builder shared by the
// repository List methods. Identifiers are sanitized through pgx so filter
// columns coming from options structs can never inject SQL.
package database

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Op is a comparison operator for a WHERE predicate.
type Op string

const (
	OpEq    Op = "="
	OpNotEq Op = "!="
	OpGt    Op = ">"
	OpLt    Op = "<"
	OpGte   Op = ">="
	OpLte   Op = "<="
	OpLike  Op = "LIKE"
	OpILike Op = "ILIKE"

	// Reserved for WhereIn and WhereRawCond; WhereCond rejects them.
	opIn     Op = "IN"
	opCustom Op = "CUSTOM"
)

// noPage marks LIMIT or OFFSET as absent.
const noPage = -1

// Condition is one WHERE predicate. Build them with WhereCond, WhereIn, or
// WhereRawCond; the zero value renders nothing.
type Condition struct {
	field  string
	op     Op
	value  any
	values []any
	raw    string
}

// WhereCond builds a column-operator-value predicate.
func WhereCond(field string, op Op, value any) Condition {
	switch op {
	case opCustom:
		//nolint:forbidigo // panic prevents misuse; raw SQL goes through WhereRawCond.
		panic("Use WhereRawCond for custom SQL predicates")
	case opIn:
		//nolint:forbidigo // panic prevents misuse; IN predicates go through WhereIn.
		panic("Use WhereIn for IN predicates")
	}
	return Condition{field: field, op: op, value: value}
}

// WhereIn builds an IN predicate from a typed slice. An empty slice renders
// nothing, which drops the predicate from the WHERE clause.
func WhereIn[T any](field string, values []T) Condition {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return Condition{field: field, op: opIn, values: vals}
}

// WhereRawCond builds a predicate from raw SQL with $1-based placeholders.
// Placeholders are renumbered into the enclosing query; repeating a
// placeholder reuses its parameter. The raw SQL is not quoted; callers own
// its safety.
func WhereRawCond(rawQuery string, params ...any) Condition {
	return Condition{op: opCustom, raw: rawQuery, values: params}
}

// ListQuery assembles a filtered SELECT against one table. Methods mutate the
// receiver and return it so calls chain; Build renders the final SQL.
//
//	q := NewListQuery("devices").
//		Select("id", "ip_address", "vendor").
//		Where(WhereCond("vendor", OpEq, "arista")).
//		OrderBy("last_seen_at", "DESC").
//		Page(10, 0)
//
//	query, args := q.Build()
type ListQuery struct {
	table    string
	columns  []string
	conds    []Condition
	orderBy  string
	orderDir string
	limit    int
	offset   int
}

// NewListQuery starts a query against table that selects * with no
// predicates and no pagination.
func NewListQuery(table string) *ListQuery {
	return &ListQuery{table: table, limit: noPage, offset: noPage}
}

// Select replaces the selected columns.
func (q *ListQuery) Select(columns ...string) *ListQuery {
	q.columns = columns
	return q
}

// Where appends predicates, all joined with AND.
func (q *ListQuery) Where(conds ...Condition) *ListQuery {
	q.conds = append(q.conds, conds...)
	return q
}

// OrderBy sets the ordering column and direction. Directions other than ASC
// and DESC are dropped at render time.
func (q *ListQuery) OrderBy(column, direction string) *ListQuery {
	q.orderBy = column
	q.orderDir = direction
	return q
}

// Page sets LIMIT and OFFSET. Zero is rendered; a negative value leaves its
// clause out.
func (q *ListQuery) Page(limit, offset int) *ListQuery {
	if limit >= 0 {
		q.limit = limit
	}
	if offset >= 0 {
		q.offset = offset
	}
	return q
}

// Build renders the SELECT with sanitized identifiers and $n placeholders.
// Apart from the nil receiver, args is always non-nil so it can feed query
// helpers directly.
func (q *ListQuery) Build() (string, []any) {
	if q == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(q.selectList())
	sb.WriteString(" FROM ")
	sb.WriteString(quoteIdent(q.table))

	where, args, next := renderWhere(q.conds, 1)
	if where != "" {
		sb.WriteString(" ")
		sb.WriteString(where)
	}

	if q.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(quoteQualifiedIdent(q.orderBy))
		if dir := strings.ToUpper(q.orderDir); dir == "ASC" || dir == "DESC" {
			sb.WriteString(" ")
			sb.WriteString(dir)
		}
	}
	if q.limit != noPage {
		sb.WriteString(" LIMIT $" + strconv.Itoa(next))
		args = append(args, q.limit)
		next++
	}
	if q.offset != noPage {
		sb.WriteString(" OFFSET $" + strconv.Itoa(next))
		args = append(args, q.offset)
	}

	return sb.String(), args
}

// selectList renders the column list, defaulting to * when none are set.
func (q *ListQuery) selectList() string {
	if len(q.columns) == 0 {
		return "*"
	}
	quoted := make([]string, len(q.columns))
	for i, col := range q.columns {
		quoted[i] = quoteQualifiedIdent(col)
	}
	return strings.Join(quoted, ", ")
}

// quoteIdent quotes a single identifier through pgx.
func quoteIdent(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

// quoteQualifiedIdent quotes identifiers like "table.column" by splitting on
// '.' and quoting each part.
func quoteQualifiedIdent(ident string) string {
	if !strings.Contains(ident, ".") {
		return quoteIdent(ident)
	}
	return pgx.Identifier(strings.Split(ident, ".")).Sanitize()
}

// renderWhere joins the rendered conditions with AND. Conditions that render
// empty (blank field, empty IN slice) are skipped.
func renderWhere(conds []Condition, start int) (string, []any, int) {
	rendered := make([]string, 0, len(conds))
	args := []any{}
	next := start

	for _, cond := range conds {
		var (
			sql      string
			condArgs []any
		)
		sql, condArgs, next = cond.render(next)
		if sql == "" {
			continue
		}
		rendered = append(rendered, sql)
		args = append(args, condArgs...)
	}

	if len(rendered) == 0 {
		return "", args, next
	}
	return "WHERE " + strings.Join(rendered, " AND "), args, next
}

// render produces the SQL fragment for one condition starting at placeholder
// $next. It returns the fragment, its arguments, and the next free index.
func (c Condition) render(next int) (string, []any, int) {
	switch c.op {
	case opCustom:
		return c.renderRaw(next)
	case opIn:
		return c.renderIn(next)
	case OpEq, OpNotEq, OpGt, OpLt, OpGte, OpLte, OpLike, OpILike:
		if c.field == "" {
			return "", nil, next
		}
		sql := fmt.Sprintf("%s %s $%d", quoteIdent(c.field), c.op, next)
		return sql, []any{c.value}, next + 1
	default:
		return "", nil, next
	}
}

func (c Condition) renderIn(next int) (string, []any, int) {
	if c.field == "" || len(c.values) == 0 {
		return "", nil, next
	}

	placeholders := make([]string, len(c.values))
	for i := range c.values {
		placeholders[i] = "$" + strconv.Itoa(next)
		next++
	}
	sql := fmt.Sprintf("%s IN (%s)", quoteIdent(c.field), strings.Join(placeholders, ", "))
	return sql, c.values, next
}

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// renderRaw renumbers the $1-based placeholders of a raw condition into the
// enclosing query's parameter sequence.
func (c Condition) renderRaw(next int) (string, []any, int) {
	if c.raw == "" {
		return "", nil, next
	}
	if len(c.values) == 0 {
		return c.raw, nil, next
	}

	args := make([]any, 0, len(c.values))
	renumbered := make(map[int]int, len(c.values))
	sql := placeholderRe.ReplaceAllStringFunc(c.raw, func(m string) string {
		n, err := strconv.Atoi(m[1:])
		if err != nil {
			return m
		}
		if _, ok := renumbered[n]; !ok {
			// Placeholders pointing past the supplied params pass through
			// untouched so the database reports the mismatch.
			if n < 1 || n > len(c.values) {
				return m
			}
			renumbered[n] = next
			args = append(args, c.values[n-1])
			next++
		}
		return "$" + strconv.Itoa(renumbered[n])
	})

	return sql, args, next
}
