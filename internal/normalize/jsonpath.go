package normalize

import "strings"

// translateJSONPathLite converts a JSONPath-lite expression ($.a.b[0].c)
// into the dot/index path syntax gjson and sjson expect (a.b.0.c). It
// implements the grammar from the matching-policy spec: a leading $
// followed by a sequence of .name or [index] steps, name matching
// [A-Za-z_][A-Za-z0-9_]*. Malformed expressions return ok=false so callers
// can silently ignore them (forward compatibility).
func translateJSONPathLite(expr string) (path string, ok bool) {
	if len(expr) == 0 || expr[0] != '$' {
		return "", false
	}
	i := 1
	var steps []string
	for i < len(expr) {
		switch expr[i] {
		case '.':
			i++
			start := i
			if i >= len(expr) || !isNameStart(expr[i]) {
				return "", false
			}
			i++
			for i < len(expr) && isNameChar(expr[i]) {
				i++
			}
			steps = append(steps, expr[start:i])
		case '[':
			i++
			start := i
			for i < len(expr) && expr[i] != ']' {
				i++
			}
			if i >= len(expr) || start == i {
				return "", false
			}
			idx := expr[start:i]
			for _, c := range idx {
				if c < '0' || c > '9' {
					return "", false
				}
			}
			steps = append(steps, idx)
			i++ // skip ']'
		default:
			return "", false
		}
	}
	if len(steps) == 0 {
		return "", false
	}
	return strings.Join(steps, "."), true
}

func isNameStart(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func isNameChar(b byte) bool {
	return isNameStart(b) || (b >= '0' && b <= '9')
}
