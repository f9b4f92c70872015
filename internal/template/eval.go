package template

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// maxExprDepth is the hard recursion-depth limit for expression
// evaluation (spec §4.2 security limits).
const maxExprDepth = 100

type evaluator struct {
	ctx     map[string]interface{}
	scopes  []map[string]interface{} // innermost last; for-loop bindings
	filters map[string]FilterFunc
}

func newEvaluator(ctx map[string]interface{}, filters map[string]FilterFunc) *evaluator {
	return &evaluator{ctx: ctx, filters: filters}
}

func (e *evaluator) pushScope(s map[string]interface{}) { e.scopes = append(e.scopes, s) }
func (e *evaluator) popScope()                          { e.scopes = e.scopes[:len(e.scopes)-1] }

func (e *evaluator) eval(expr Expr, depth int) (interface{}, error) {
	if depth > maxExprDepth {
		return nil, fmt.Errorf("%w: recursion", ErrLimitExceeded)
	}
	switch ex := expr.(type) {
	case literalExpr:
		return ex.value, nil
	case varExpr:
		root, ok := e.ctx[ex.root]
		if !ok {
			return nil, nil
		}
		return resolvePath(root, ex.path), nil
	case localExpr:
		for i := len(e.scopes) - 1; i >= 0; i-- {
			if root, ok := e.scopes[i][ex.root]; ok {
				return resolvePath(root, ex.path), nil
			}
		}
		return nil, nil
	case unaryExpr:
		v, err := e.eval(ex.sub, depth+1)
		if err != nil {
			return nil, err
		}
		n, _, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("%w: unary '-' requires a number", ErrEval)
		}
		return -n, nil
	case binaryExpr:
		return e.evalBinary(ex, depth)
	case callExpr:
		return e.evalCall(ex, depth)
	default:
		return nil, fmt.Errorf("%w: unknown expression node", ErrEval)
	}
}

func (e *evaluator) evalCall(ex callExpr, depth int) (interface{}, error) {
	fn, ok := e.filters[ex.name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown filter %q", ErrFilter, ex.name)
	}
	if len(ex.args) == 0 {
		return nil, fmt.Errorf("%w: filter %q requires a value argument", ErrFilter, ex.name)
	}
	value, err := e.eval(ex.args[0], depth+1)
	if err != nil {
		return nil, err
	}
	args := make([]interface{}, 0, len(ex.args)-1)
	for _, a := range ex.args[1:] {
		v, err := e.eval(a, depth+1)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	result, err := fn(value, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFilter, ex.name, err)
	}
	return result, nil
}

func (e *evaluator) evalBinary(ex binaryExpr, depth int) (interface{}, error) {
	if ex.op == tokAnd || ex.op == tokOr {
		left, err := e.eval(ex.left, depth+1)
		if err != nil {
			return nil, err
		}
		leftTruthy := truthy(left)
		if ex.op == tokAnd && !leftTruthy {
			return false, nil
		}
		if ex.op == tokOr && leftTruthy {
			return true, nil
		}
		right, err := e.eval(ex.right, depth+1)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	left, err := e.eval(ex.left, depth+1)
	if err != nil {
		return nil, err
	}
	right, err := e.eval(ex.right, depth+1)
	if err != nil {
		return nil, err
	}

	switch ex.op {
	case tokPlus:
		return evalPlus(left, right)
	case tokMinus, tokStar, tokSlash:
		ln, _, lok := toNumber(left)
		rn, _, rok := toNumber(right)
		if !lok || !rok {
			return nil, fmt.Errorf("%w: arithmetic requires numbers", ErrEval)
		}
		switch ex.op {
		case tokMinus:
			return normalizeNumber(ln-rn, left, right), nil
		case tokStar:
			return normalizeNumber(ln*rn, left, right), nil
		case tokSlash:
			if rn == 0 {
				return nil, fmt.Errorf("%w: division by zero", ErrEval)
			}
			return ln / rn, nil
		}
	case tokEq, tokNe, tokLt, tokLe, tokGt, tokGe:
		return evalCompare(ex.op, left, right)
	}
	return nil, fmt.Errorf("%w: unsupported operator", ErrEval)
}

func evalPlus(left, right interface{}) (interface{}, error) {
	ln, _, lok := toNumber(left)
	rn, _, rok := toNumber(right)
	if lok && rok {
		return normalizeNumber(ln+rn, left, right), nil
	}
	return stringify(left) + stringify(right), nil
}

func evalCompare(op tokenKind, left, right interface{}) (interface{}, error) {
	ln, _, lok := toNumber(left)
	rn, _, rok := toNumber(right)
	if lok && rok {
		switch op {
		case tokEq:
			return ln == rn, nil
		case tokNe:
			return ln != rn, nil
		case tokLt:
			return ln < rn, nil
		case tokLe:
			return ln <= rn, nil
		case tokGt:
			return ln > rn, nil
		case tokGe:
			return ln >= rn, nil
		}
	}
	ls, lsOk := left.(string)
	rs, rsOk := right.(string)
	if lsOk && rsOk {
		switch op {
		case tokEq:
			return ls == rs, nil
		case tokNe:
			return ls != rs, nil
		case tokLt:
			return ls < rs, nil
		case tokLe:
			return ls <= rs, nil
		case tokGt:
			return ls > rs, nil
		case tokGe:
			return ls >= rs, nil
		}
	}
	switch op {
	case tokEq:
		return fmt.Sprint(left) == fmt.Sprint(right), nil
	case tokNe:
		return fmt.Sprint(left) != fmt.Sprint(right), nil
	default:
		return nil, fmt.Errorf("%w: cannot compare incompatible types", ErrEval)
	}
}

// Atom is the map-key type for a `[:ident]` segment (spec §4.1's atom
// bracket). It is defined distinct from string so that a context map
// can carry an Atom("x") entry and a string "x" entry as two different
// keys — the Go stand-in for "opaque Atom type" in a language without
// symbols. Only map[interface{}]interface{} contexts can actually hold
// both; plain map[string]interface{} contexts (the common case, coming
// from JSON) have no string/atom collision to protect against, so atom
// lookup on them falls back to a plain string-keyed lookup.
type Atom string

// resolvePath walks dot/index/quoted/atom segments over root, returning
// nil when any segment is missing (graceful, matching spec §4.1).
func resolvePath(root interface{}, segs []pathSeg) interface{} {
	current := root
	for _, s := range segs {
		switch s.kind {
		case segDot, segQuoted:
			v, ok := mapLookup(current, s.text)
			if !ok {
				return nil
			}
			current = v
		case segAtom:
			v, ok := atomLookup(current, s.text)
			if !ok {
				return nil
			}
			current = v
		case segIndex:
			idx, err := strconv.Atoi(s.text)
			if err == nil {
				if l, ok := current.([]interface{}); ok {
					if idx < 0 || idx >= len(l) {
						return nil
					}
					current = l[idx]
					continue
				}
			}
			v, ok := mapLookup(current, s.text)
			if !ok {
				return nil
			}
			current = v
		}
	}
	return current
}

func mapLookup(current interface{}, key string) (interface{}, bool) {
	switch m := current.(type) {
	case map[string]interface{}:
		v, ok := m[key]
		return v, ok
	case map[string]string:
		v, ok := m[key]
		return v, ok
	case map[interface{}]interface{}:
		v, ok := m[key]
		return v, ok
	default:
		return nil, false
	}
}

// atomLookup resolves a `[:ident]` segment. Against a
// map[interface{}]interface{} it looks up the Atom(key) entry
// specifically, leaving any string(key) entry in the same map
// untouched. Any other map shape has no atom/string key distinction to
// make, so it degrades to mapLookup.
func atomLookup(current interface{}, key string) (interface{}, bool) {
	m, ok := current.(map[interface{}]interface{})
	if !ok {
		return mapLookup(current, key)
	}
	v, ok := m[Atom(key)]
	return v, ok
}

// truthy implements spec §4.2: falsy = nil | false | 0 | "" | [] | {}.
func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case string:
		return val != ""
	case []interface{}:
		return len(val) > 0
	case map[string]interface{}:
		return len(val) > 0
	default:
		return true
	}
}

// toNumber normalizes supported numeric-ish types to float64, reporting
// whether the original value was an integral Go type (used to decide
// whether an arithmetic result should be rendered as an integer).
func toNumber(v interface{}) (float64, bool, bool) {
	switch n := v.(type) {
	case float64:
		return n, n == float64(int64(n)), true
	case float32:
		return float64(n), float64(n) == float64(int64(n)), true
	case int:
		return float64(n), true, true
	case int64:
		return float64(n), true, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false, false
		}
		return f, f == float64(int64(f)), true
	default:
		return 0, false, false
	}
}

// normalizeNumber returns an int64 when both original operands were
// integral, else float64 — preserving "number stays number" typing for
// arithmetic results built from integer context values.
func normalizeNumber(result float64, left, right interface{}) interface{} {
	_, lInt, _ := toNumber(left)
	_, rInt, _ := toNumber(right)
	if lInt && rInt && result == float64(int64(result)) {
		return int64(result)
	}
	return result
}

// stringify renders a value per spec §4.2's "Any other template" rules.
func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return stringify(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case []interface{}:
		parts := make([]string, len(val))
		for i, e := range val {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, ", ")
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s: %s", k, stringify(val[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprint(val)
	}
}
