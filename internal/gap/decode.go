package gap

import "fmt"

// FromMap reads a gap out of loosely shaped verifier output. "description"
// is accepted for "message", "id"/"gap_id" are ignored because IDs are
// always recomputed, and "object" may be missing. A scalar or array
// object is kept under the "value" key. Non-string
// suggested_actions entries are formatted with %v.
func FromMap(m map[string]any, verifier string) Gap {
	g := Gap{Verifier: verifier}
	g.Type, _ = m["type"].(string)
	if s, ok := m["severity"].(string); ok {
		g.Severity = Severity(s)
	}
	if msg, ok := m["message"].(string); ok {
		g.Message = msg
	} else if desc, ok := m["description"].(string); ok {
		g.Message = desc
	}
	switch obj := m["object"].(type) {
	case map[string]any:
		g.Object = obj
	case nil:
	default:
		g.Object = map[string]any{"value": obj}
	}
	switch acts := m["suggested_actions"].(type) {
	case []any:
		for _, a := range acts {
			if s, ok := a.(string); ok {
				g.SuggestedActions = append(g.SuggestedActions, s)
			} else {
				g.SuggestedActions = append(g.SuggestedActions, fmt.Sprint(a))
			}
		}
	case string:
		g.SuggestedActions = []string{acts}
	}
	if v, ok := m["verifier"].(string); ok && v != "" && verifier == "" {
		g.Verifier = v
	}
	return g
}
