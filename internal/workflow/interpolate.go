package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// resolveValue resolves "$name" string references against the context map,
// recursing into nested maps and slices. An unknown reference keeps its
// literal text, so authored values that merely look like references pass
// through untouched.
func resolveValue(v any, ctx map[string]any) any {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "$") {
			if resolved, ok := ctx[val[1:]]; ok {
				return resolved
			}
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, nested := range val {
			out[k] = resolveValue(nested, ctx)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, nested := range val {
			out[i] = resolveValue(nested, ctx)
		}
		return out
	}
	return v
}

func interpolateInput(input, ctx map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = resolveValue(v, ctx)
	}
	return out
}

// evaluateCondition interprets the small predicate language used by
// conditional and loop steps: "||" over "&&" over comparisons. A
// comparison is two operands joined by ==, !=, >=, <=, > or <; a bare
// operand is true when non-empty and not "false" or "0". Operands starting
// with "$" read the context (an unresolved reference evaluates as empty);
// everything else is a literal with surrounding quotes stripped.
func evaluateCondition(expr string, ctx map[string]any) bool {
	for _, orPart := range strings.Split(expr, "||") {
		matched := true
		for _, andPart := range strings.Split(orPart, "&&") {
			if !evaluateComparison(strings.TrimSpace(andPart), ctx) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func evaluateComparison(expr string, ctx map[string]any) bool {
	for _, op := range []string{"!=", "==", ">=", "<=", ">", "<"} {
		left, right, found := strings.Cut(expr, op)
		if !found {
			continue
		}
		lv := operand(left, ctx)
		rv := operand(right, ctx)
		switch op {
		case "==":
			return lv == rv
		case "!=":
			return lv != rv
		}
		ln, lerr := strconv.ParseFloat(lv, 64)
		rn, rerr := strconv.ParseFloat(rv, 64)
		if lerr != nil || rerr != nil {
			return false
		}
		switch op {
		case ">=":
			return ln >= rn
		case "<=":
			return ln <= rn
		case ">":
			return ln > rn
		}
		return ln < rn
	}

	v := operand(expr, ctx)
	return v != "" && v != "false" && v != "0"
}

func operand(s string, ctx map[string]any) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "$") {
		if v, ok := ctx[s[1:]]; ok {
			return fmt.Sprint(v)
		}
		return ""
	}
	return strings.Trim(s, `"'`)
}
