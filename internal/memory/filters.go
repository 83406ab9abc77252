package memory

import (
	"fmt"
	"strings"
)

// Filters constrain a search to documents matching every present field.
// Empty fields are unconstrained. Source matches the document's kind.
type Filters struct {
	Source         string      `json:"source,omitempty"`
	SourceID       string      `json:"source_id,omitempty"`
	ConversationID string      `json:"conversation_id,omitempty"`
	ContentType    ContentType `json:"content_type,omitempty"`
	Category       string      `json:"category,omitempty"`
	Subcategory    string      `json:"subcategory,omitempty"`
}

// Match reports whether a vector hit satisfies every present filter field.
func (f Filters) Match(h VectorHit) bool {
	if f.Source != "" && f.Source != h.Kind {
		return false
	}
	if f.SourceID != "" && f.SourceID != h.SourceID {
		return false
	}
	if f.ConversationID != "" && f.ConversationID != h.ConversationID {
		return false
	}
	if f.ContentType != "" && f.ContentType != h.ContentType {
		return false
	}
	if f.Category != "" && f.Category != h.Category {
		return false
	}
	if f.Subcategory != "" && f.Subcategory != h.Subcategory {
		return false
	}
	return true
}

// Expr renders the filters as the lexical backend's filter expression:
// each present field as key:'value', AND-joined.
func (f Filters) Expr() string {
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, fmt.Sprintf("%s:'%s'", key, value))
		}
	}
	add("source", f.Source)
	add("source_id", f.SourceID)
	add("conversation_id", f.ConversationID)
	add("content_type", string(f.ContentType))
	add("category", f.Category)
	add("subcategory", f.Subcategory)
	return strings.Join(parts, " AND ")
}

// Key renders the filters as a stable cache key fragment.
func (f Filters) Key() string {
	return strings.Join([]string{
		f.Source, f.SourceID, f.ConversationID,
		string(f.ContentType), f.Category, f.Subcategory,
	}, "|")
}

// ParseFilterExpr parses a filter expression produced by [Filters.Expr]
// back into field constraints. Unknown keys are rejected.
func ParseFilterExpr(expr string) (map[string]string, error) {
	out := make(map[string]string)
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return out, nil
	}
	for _, clause := range strings.Split(expr, " AND ") {
		key, value, ok := strings.Cut(clause, ":")
		if !ok {
			return nil, fmt.Errorf("malformed filter clause %q", clause)
		}
		value = strings.TrimSpace(value)
		if len(value) < 2 || value[0] != '\'' || value[len(value)-1] != '\'' {
			return nil, fmt.Errorf("filter value not quoted in clause %q", clause)
		}
		key = strings.TrimSpace(key)
		switch key {
		case "source", "source_id", "conversation_id", "content_type", "category", "subcategory":
			out[key] = value[1 : len(value)-1]
		default:
			return nil, fmt.Errorf("unknown filter key %q", key)
		}
	}
	return out, nil
}
