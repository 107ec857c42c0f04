package postgres

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/splax/etlwatch/internal/domain"
)

// queryBuilder collects WHERE conditions and their positional bind values.
type queryBuilder struct {
	conds []string
	args  []any
}

func (b *queryBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *queryBuilder) where(cond string) {
	b.conds = append(b.conds, cond)
}

// unit adds the business unit filter for column. Null names compare as the
// empty string so they fall into Uncategorized, matching domain.Classify.
func (b *queryBuilder) unit(column string, f domain.UnitFilter) {
	expr := fmt.Sprintf("lower(COALESCE(%s, ''))", column)
	if f.Include != "" {
		b.where(expr + " LIKE " + b.arg(likePrefix(f.Include)))
	}
	for _, prefix := range f.Exclude {
		b.where(expr + " NOT LIKE " + b.arg(likePrefix(prefix)))
	}
}

func (b *queryBuilder) clause() string {
	if len(b.conds) == 0 {
		return ""
	}
	return "\n\t\tWHERE " + strings.Join(b.conds, "\n\t\t\tAND ")
}

func (b *queryBuilder) limit(n int) string {
	if n <= 0 {
		return ""
	}
	return "\n\t\tLIMIT " + b.arg(n)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePrefix turns a literal prefix into a LIKE pattern.
func likePrefix(prefix string) string {
	return likeEscaper.Replace(strings.ToLower(prefix)) + "%"
}
