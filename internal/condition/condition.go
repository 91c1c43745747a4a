package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// maxDepth bounds expression nesting so a pathological template cannot
// recurse unbounded.
const maxDepth = 32

// Context resolves bare identifiers in an expression to values.
type Context interface {
	Lookup(key string) (any, bool)
}

// MapContext is a plain map Context, convenient for tests and for
// evaluating against resolved dynamic configuration.
type MapContext map[string]any

// Lookup implements Context.
func (m MapContext) Lookup(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

// Evaluate runs an expression against a context.
//
// An empty expression is true: no condition means always active. Any
// error, including unknown keys and malformed syntax, yields false.
func Evaluate(expr string, ctx Context) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}
	result, err := eval(expr, ctx, 0)
	if err != nil {
		return false
	}
	return result
}

// Validate checks an expression's structure without resolving keys.
// An empty expression is valid.
func Validate(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	return validate(expr, 0)
}

// comparisonOps in match order. Compound operators come before their
// single-character prefixes.
var comparisonOps = []string{" not in ", " in ", "!=", "==", ">=", "<=", ">", "<"}

func eval(expr string, ctx Context, depth int) (bool, error) {
	if depth > maxDepth {
		return false, fmt.Errorf("%w: expression nests deeper than %d", ErrSyntax, maxDepth)
	}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, fmt.Errorf("%w: empty subexpression", ErrSyntax)
	}

	expr, err := stripOuterParens(expr)
	if err != nil {
		return false, err
	}

	// "or" splits at its last top-level occurrence so "and" binds
	// tighter. Both operators short-circuit.
	if idx, err := topLevelIndex(expr, " or ", true); err != nil {
		return false, err
	} else if idx >= 0 {
		left, err := eval(expr[:idx], ctx, depth+1)
		if err != nil {
			return false, err
		}
		if left {
			return true, nil
		}
		return eval(expr[idx+len(" or "):], ctx, depth+1)
	}

	if idx, err := topLevelIndex(expr, " and ", false); err != nil {
		return false, err
	} else if idx >= 0 {
		left, err := eval(expr[:idx], ctx, depth+1)
		if err != nil {
			return false, err
		}
		if !left {
			return false, nil
		}
		return eval(expr[idx+len(" and "):], ctx, depth+1)
	}

	return evalLeaf(expr, ctx)
}

// evalLeaf evaluates a single comparison.
func evalLeaf(expr string, ctx Context) (bool, error) {
	for _, op := range comparisonOps {
		idx, err := topLevelIndex(expr, op, false)
		if err != nil {
			return false, err
		}
		if idx < 0 {
			continue
		}

		left := strings.TrimSpace(expr[:idx])
		right := strings.TrimSpace(expr[idx+len(op):])
		if left == "" || right == "" {
			return false, fmt.Errorf("%w: missing operand near %q", ErrSyntax, strings.TrimSpace(op))
		}

		switch strings.TrimSpace(op) {
		case "in":
			return evalIn(left, right, ctx, false)
		case "not in":
			return evalIn(left, right, ctx, true)
		default:
			return evalCompare(left, right, strings.TrimSpace(op), ctx)
		}
	}
	return false, fmt.Errorf("%w: no comparison operator in %q", ErrSyntax, expr)
}

// evalCompare resolves both operands and compares them. Values that both
// coerce to numbers compare numerically (booleans as 0/1, strings parsed
// including 0x hex); anything else compares as strings.
func evalCompare(leftTok, rightTok, op string, ctx Context) (bool, error) {
	left, err := resolveOperand(leftTok, ctx)
	if err != nil {
		return false, err
	}
	right, err := resolveOperand(rightTok, ctx)
	if err != nil {
		return false, err
	}

	if lf, lok := numericValue(left); lok {
		if rf, rok := numericValue(right); rok {
			return compareFloats(lf, rf, op), nil
		}
	}

	ls, rs := stringValue(left), stringValue(right)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case ">":
		return ls > rs, nil
	case ">=":
		return ls >= rs, nil
	case "<":
		return ls < rs, nil
	case "<=":
		return ls <= rs, nil
	}
	return false, fmt.Errorf("%w: unknown operator %q", ErrSyntax, op)
}

func compareFloats(l, r float64, op string) bool {
	switch op {
	case "==":
		return l == r
	case "!=":
		return l != r
	case ">":
		return l > r
	case ">=":
		return l >= r
	case "<":
		return l < r
	case "<=":
		return l <= r
	}
	return false
}

// evalIn handles "in" and "not in". A parenthesised right side is a list
// literal matched by element equality; a string right side is a substring
// test; a context value that is a list matches by element equality.
func evalIn(leftTok, rightTok string, ctx Context, negate bool) (bool, error) {
	left, err := resolveOperand(leftTok, ctx)
	if err != nil {
		return false, err
	}

	var found bool
	if strings.HasPrefix(rightTok, "(") && strings.HasSuffix(rightTok, ")") {
		items, err := splitList(rightTok[1 : len(rightTok)-1])
		if err != nil {
			return false, err
		}
		for _, item := range items {
			val, err := resolveOperand(item, ctx)
			if err != nil {
				return false, err
			}
			if looseEqual(left, val) {
				found = true
				break
			}
		}
	} else {
		right, err := resolveOperand(rightTok, ctx)
		if err != nil {
			return false, err
		}
		switch rv := right.(type) {
		case string:
			found = strings.Contains(rv, stringValue(left))
		case []any:
			for _, item := range rv {
				if looseEqual(left, item) {
					found = true
					break
				}
			}
		default:
			return false, fmt.Errorf("%w: right side of in must be a list or string", ErrSyntax)
		}
	}

	if negate {
		return !found, nil
	}
	return found, nil
}

// resolveOperand turns a token into a value: quoted string, boolean or
// numeric literal, or a context key. Unknown keys are errors so missing
// configuration fails closed.
func resolveOperand(tok string, ctx Context) (any, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return nil, fmt.Errorf("%w: empty operand", ErrSyntax)
	}

	if len(tok) >= 2 {
		if (tok[0] == '\'' && tok[len(tok)-1] == '\'') || (tok[0] == '"' && tok[len(tok)-1] == '"') {
			return tok[1 : len(tok)-1], nil
		}
	}

	switch tok {
	case "true", "True":
		return true, nil
	case "false", "False":
		return false, nil
	}

	if n, err := strconv.ParseInt(tok, 0, 64); err == nil {
		return n, nil
	}
	if u, err := strconv.ParseUint(tok, 0, 64); err == nil {
		return u, nil
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return f, nil
	}

	if v, ok := ctx.Lookup(tok); ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: unknown key %q", ErrSyntax, tok)
}

// numericValue coerces a value to float64 where possible.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		if i, err := strconv.ParseInt(n, 0, 64); err == nil {
			return float64(i), true
		}
		if u, err := strconv.ParseUint(n, 0, 64); err == nil {
			return float64(u), true
		}
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// looseEqual compares two values numerically when both coerce, otherwise
// as strings.
func looseEqual(a, b any) bool {
	if af, aok := numericValue(a); aok {
		if bf, bok := numericValue(b); bok {
			return af == bf
		}
	}
	return stringValue(a) == stringValue(b)
}

// validate walks the expression structure without resolving keys.
func validate(expr string, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: expression nests deeper than %d", ErrSyntax, maxDepth)
	}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return fmt.Errorf("%w: empty subexpression", ErrSyntax)
	}

	expr, err := stripOuterParens(expr)
	if err != nil {
		return err
	}

	if idx, err := topLevelIndex(expr, " or ", true); err != nil {
		return err
	} else if idx >= 0 {
		if err := validate(expr[:idx], depth+1); err != nil {
			return err
		}
		return validate(expr[idx+len(" or "):], depth+1)
	}

	if idx, err := topLevelIndex(expr, " and ", false); err != nil {
		return err
	} else if idx >= 0 {
		if err := validate(expr[:idx], depth+1); err != nil {
			return err
		}
		return validate(expr[idx+len(" and "):], depth+1)
	}

	for _, op := range comparisonOps {
		idx, err := topLevelIndex(expr, op, false)
		if err != nil {
			return err
		}
		if idx < 0 {
			continue
		}
		left := strings.TrimSpace(expr[:idx])
		right := strings.TrimSpace(expr[idx+len(op):])
		if left == "" || right == "" {
			return fmt.Errorf("%w: missing operand near %q", ErrSyntax, strings.TrimSpace(op))
		}
		if err := checkOperandToken(left); err != nil {
			return err
		}
		if strings.HasSuffix(strings.TrimSpace(op), "in") &&
			strings.HasPrefix(right, "(") && strings.HasSuffix(right, ")") {
			items, err := splitList(right[1 : len(right)-1])
			if err != nil {
				return err
			}
			for _, item := range items {
				if err := checkOperandToken(item); err != nil {
					return err
				}
			}
			return nil
		}
		return checkOperandToken(right)
	}
	return fmt.Errorf("%w: no comparison operator in %q", ErrSyntax, expr)
}

// checkOperandToken rejects bare tokens containing whitespace, which is
// how a dangling "and"/"or" ends up folded into an operand.
func checkOperandToken(tok string) error {
	if len(tok) >= 2 {
		if (tok[0] == '\'' && tok[len(tok)-1] == '\'') || (tok[0] == '"' && tok[len(tok)-1] == '"') {
			return nil
		}
	}
	if strings.ContainsAny(tok, " \t") {
		return fmt.Errorf("%w: malformed operand %q", ErrSyntax, tok)
	}
	return nil
}

// stripOuterParens removes parentheses that wrap the whole expression,
// repeatedly. Quotes are honoured; unbalanced input is an error.
func stripOuterParens(expr string) (string, error) {
	for {
		expr = strings.TrimSpace(expr)
		if len(expr) < 2 || expr[0] != '(' || expr[len(expr)-1] != ')' {
			return expr, nil
		}

		depth := 0
		closes := -1
		var quote byte
		for i := 0; i < len(expr); i++ {
			c := expr[i]
			if quote != 0 {
				if c == quote {
					quote = 0
				}
				continue
			}
			switch c {
			case '\'', '"':
				quote = c
			case '(':
				depth++
			case ')':
				depth--
				if depth < 0 {
					return "", fmt.Errorf("%w: unbalanced parentheses", ErrSyntax)
				}
				if depth == 0 && closes == -1 {
					closes = i
				}
			}
		}
		if quote != 0 {
			return "", fmt.Errorf("%w: unterminated string literal", ErrSyntax)
		}
		if depth != 0 {
			return "", fmt.Errorf("%w: unbalanced parentheses", ErrSyntax)
		}
		if closes != len(expr)-1 {
			return expr, nil
		}
		expr = expr[1 : len(expr)-1]
	}
}

// topLevelIndex locates op at parenthesis depth zero outside string
// literals. With last set the final occurrence is returned, otherwise
// the first. Returns -1 when absent.
func topLevelIndex(expr, op string, last bool) (int, error) {
	depth := 0
	found := -1
	var quote byte
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return -1, fmt.Errorf("%w: unbalanced parentheses", ErrSyntax)
			}
		default:
			if depth == 0 && strings.HasPrefix(expr[i:], op) {
				if !last {
					return i, nil
				}
				found = i
			}
		}
	}
	if depth != 0 {
		return -1, fmt.Errorf("%w: unbalanced parentheses", ErrSyntax)
	}
	if quote != 0 {
		return -1, fmt.Errorf("%w: unterminated string literal", ErrSyntax)
	}
	return found, nil
}

// splitList splits a list literal body on top-level commas.
func splitList(body string) ([]string, error) {
	var items []string
	depth := 0
	start := 0
	var quote byte
	for i := 0; i < len(body); i++ {
		c := body[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				items = append(items, strings.TrimSpace(body[start:i]))
				start = i + 1
			}
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated string literal", ErrSyntax)
	}
	items = append(items, strings.TrimSpace(body[start:]))

	for _, item := range items {
		if item == "" {
			return nil, fmt.Errorf("%w: empty list element", ErrSyntax)
		}
	}
	return items, nil
}
