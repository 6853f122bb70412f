package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/threadmem/memcore/internal/model"
)

// ApplyEntityQuery filters, orders and paginates entity records in memory.
// Adapters without server-side filtering (the KV backend) fetch the whole
// kind and delegate here; this is a documented performance trade-off, not a
// bug, and callers with high-cardinality entity sets should not rely on it.
func ApplyEntityQuery(recs []model.EntityRecord, q EntityQuery) []model.EntityRecord {
	out := recs
	if len(q.Equals) > 0 {
		out = nil
		for _, rec := range recs {
			doc := decodeDoc(rec.Data)
			match := true
			for field, want := range q.Equals {
				if !looseEqual(doc[field], want) {
					match = false
					break
				}
			}
			if match {
				out = append(out, rec)
			}
		}
	}

	if q.OrderBy != "" {
		field := q.OrderBy
		sort.SliceStable(out, func(i, j int) bool {
			a := fieldString(out[i].Data, field)
			b := fieldString(out[j].Data, field)
			if q.Descending {
				return a > b
			}
			return a < b
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return nil
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out
}

func decodeDoc(data []byte) map[string]any {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc
}

func fieldString(data []byte, field string) string {
	doc := decodeDoc(data)
	if doc == nil {
		return ""
	}
	v, ok := doc[field]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// looseEqual compares a decoded JSON value against a caller-supplied filter
// value. JSON numbers decode as float64, so integer filter values are
// widened before comparison.
func looseEqual(got, want any) bool {
	switch w := want.(type) {
	case int:
		f, ok := got.(float64)
		return ok && f == float64(w)
	case int64:
		f, ok := got.(float64)
		return ok && f == float64(w)
	case float64:
		f, ok := got.(float64)
		return ok && f == w
	default:
		return got == want
	}
}
