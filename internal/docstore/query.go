package docstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "=="
	OpNeq Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpIn  Op = "in"
)

// Filter restricts a query to documents whose field compares true against Value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where is shorthand for constructing a Filter.
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Query selects documents from one collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Signature returns a canonical string for q. Queries with equal signatures
// select the same documents in the same order.
func (q Query) Signature() string {
	filters := make([]string, 0, len(q.Filters))
	for _, f := range q.Filters {
		filters = append(filters, fmt.Sprintf("%s%s%s", f.Field, f.Op, canonicalValue(f.Value)))
	}
	sort.Strings(filters)

	var b strings.Builder
	b.WriteString(strings.Trim(q.Collection, "/"))
	b.WriteString("?")
	b.WriteString(strings.Join(filters, "&"))
	b.WriteString("#")
	b.WriteString(q.OrderBy)
	if q.Descending {
		b.WriteString(":desc")
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, "@%d", q.Limit)
	}
	return b.String()
}

func canonicalValue(v any) string {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(payload)
}

// Matches reports whether data satisfies every filter.
func Matches(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !matchFilter(data, f) {
			return false
		}
	}
	return true
}

func matchFilter(data map[string]any, f Filter) bool {
	value, present := data[f.Field]
	switch f.Op {
	case OpEq:
		return present && equalValues(value, f.Value)
	case OpNeq:
		return !present || !equalValues(value, f.Value)
	case OpIn:
		if !present {
			return false
		}
		for _, candidate := range listValues(f.Value) {
			if equalValues(value, candidate) {
				return true
			}
		}
		return false
	}

	if !present {
		return false
	}
	cmp, ok := compareValues(value, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	default:
		return false
	}
}

func listValues(v any) []any {
	switch list := v.(type) {
	case []any:
		return list
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

func equalValues(a, b any) bool {
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	return a == nil && b == nil
}

// compareValues orders strings lexically and numbers numerically. Values of
// different kinds are incomparable.
func compareValues(a, b any) (int, bool) {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	af, aok := toFloat64(a)
	bf, bok := toFloat64(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}

// Apply filters, orders and limits docs according to q. Documents are ordered
// by id when no OrderBy is set, and ties on OrderBy break on id.
func Apply(q Query, docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if Matches(doc.Data, q.Filters) {
			out = append(out, doc)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if q.OrderBy != "" {
			cmp, ok := compareValues(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
			if ok && cmp != 0 {
				if q.Descending {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return out[i].ID < out[j].ID
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
