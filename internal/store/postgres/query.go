package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// listQuery appends the ListOpts filters to a SELECT over a table whose
// timestamp column is tsCol. Results are newest first.
type listQuery struct {
	sb   strings.Builder
	args []any
}

func newListQuery(base string) *listQuery {
	q := &listQuery{}
	q.sb.WriteString(base)
	q.sb.WriteString(" WHERE 1=1")
	return q
}

func (q *listQuery) where(cond string, arg any) {
	q.args = append(q.args, arg)
	fmt.Fprintf(&q.sb, " AND "+cond, len(q.args))
}

func (q *listQuery) apply(opts domain.ListOpts, tsCol, orderBy string) (string, []any) {
	if opts.Since != nil {
		q.where(tsCol+" >= $%d", opts.Since.UTC().Truncate(time.Microsecond))
	}
	q.sb.WriteString(" ORDER BY " + orderBy)
	if opts.Limit > 0 {
		q.args = append(q.args, opts.Limit)
		fmt.Fprintf(&q.sb, " LIMIT $%d", len(q.args))
	}
	if opts.Offset > 0 {
		q.args = append(q.args, opts.Offset)
		fmt.Fprintf(&q.sb, " OFFSET $%d", len(q.args))
	}
	return q.sb.String(), q.args
}
