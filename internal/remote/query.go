package remote

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Filter operators understood by every implementation.
const (
	OpEq  = "eq"
	OpGte = "gte"
	OpLte = "lte"
)

type Filter struct {
	Column string
	Op     string
	Value  string
}

type Order struct {
	Column string
	Desc   bool
}

// Query describes a read or the row set a write applies to. The zero
// value of every field means "no constraint". Methods return copies so a
// base query can be shared.
type Query struct {
	Collection string
	Columns    string
	Filters    []Filter
	Orders     []Order
	Max        int
}

// From starts a query on collection selecting every column.
func From(collection string) Query {
	return Query{Collection: collection, Columns: "*"}
}

func (q Query) Select(columns string) Query {
	q.Columns = columns
	return q
}

func (q Query) Eq(column string, v any) Query { return q.where(column, OpEq, v) }
func (q Query) Gte(column string, v any) Query { return q.where(column, OpGte, v) }
func (q Query) Lte(column string, v any) Query { return q.where(column, OpLte, v) }
func (q Query) Limit(n int) Query { q.Max = n; return q }
func (q Query) OrderBy(column string, desc bool) Query {
	q.Orders = append(q.Orders[:len(q.Orders):len(q.Orders)], Order{Column: column, Desc: desc})
	return q
}

func (q Query) where(column, op string, v any) Query {
	q.Filters = append(q.Filters[:len(q.Filters):len(q.Filters)], Filter{Column: column, Op: op, Value: formatValue(v)})
	return q
}

// FilterValue returns the value of the first eq filter on column.
func (q Query) FilterValue(column string) (string, bool) {
	for _, f := range q.Filters {
		if f.Column == column && f.Op == OpEq {
			return f.Value, true
		}
	}
	return "", false
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// Values encodes the query in PostgREST syntax:
// select=...&col=eq.v&order=col.desc&limit=n.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.Columns != "" {
		v.Set("select", compactColumns(q.Columns))
	}
	for _, f := range q.Filters {
		v.Add(f.Column, f.Op+"."+f.Value)
	}
	if len(q.Orders) > 0 {
		parts := make([]string, len(q.Orders))
		for i, o := range q.Orders {
			dir := "asc"
			if o.Desc {
				dir = "desc"
			}
			parts[i] = o.Column + "." + dir
		}
		v.Set("order", strings.Join(parts, ","))
	}
	if q.Max > 0 {
		v.Set("limit", strconv.Itoa(q.Max))
	}
	return v
}

func (q Query) String() string {
	return q.Collection + "?" + q.Values().Encode()
}

// compactColumns drops whitespace so multi-line select lists encode cleanly.
func compactColumns(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// Embeds returns the related collections named in the select list,
// e.g. "*, categorias(nombre)" yields ["categorias"].
func (q Query) Embeds() []string {
	var out []string
	for _, part := range strings.Split(compactColumns(q.Columns), ",") {
		if i := strings.IndexByte(part, '('); i > 0 {
			name := part[:i]
			if j := strings.IndexByte(name, ':'); j >= 0 {
				name = name[j+1:]
			}
			if k := strings.IndexByte(name, '!'); k >= 0 {
				name = name[:k]
			}
			out = append(out, name)
		}
	}
	return out
}
