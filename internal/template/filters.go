package template

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// FilterFunc implements one named filter. value is the piped-in left-hand
// side; args are the filter's call arguments, already evaluated.
type FilterFunc func(value interface{}, args []interface{}) (interface{}, error)

// DefaultFilters returns the required filter set of spec §4.2: string,
// number, and collection filters, keyed by name.
func DefaultFilters() map[string]FilterFunc {
	return map[string]FilterFunc{
		// String
		"upper_case": filterUpperCase,
		"lower_case": filterLowerCase,
		"capitalize": filterCapitalize,
		"truncate":   filterTruncate,
		"default":    filterDefault,

		// Number
		"round":           filterRound,
		"format_currency": filterFormatCurrency,
		"abs":             filterAbs,
		"ceil":            filterCeil,
		"floor":           filterFloor,
		"max":             filterMax,
		"min":             filterMin,
		"power":           filterPower,
		"sqrt":            filterSqrt,
		"modulo":          filterModulo,
		"clamp":           filterClamp,

		// Collection
		"length":   filterLength,
		"first":    filterFirst,
		"last":     filterLast,
		"join":     filterJoin,
		"sort":     filterSort,
		"reverse":  filterReverse,
		"uniq":     filterUniq,
		"slice":    filterSlice,
		"contains": filterContains,
		"compact":  filterCompact,
		"flatten":  filterFlatten,
		"sum":      filterSum,
		"keys":     filterKeys,
		"values":   filterValues,
		"group_by": filterGroupBy,
		"map":      filterMap,
		"filter":   filterFilterBy,
		"reject":   filterRejectBy,
		"dump":     filterDump,
	}
}

func argString(args []interface{}, i int, def string) string {
	if i >= len(args) {
		return def
	}
	return stringify(args[i])
}

func argNumber(args []interface{}, i int, def float64) float64 {
	if i >= len(args) {
		return def
	}
	n, _, ok := toNumber(args[i])
	if !ok {
		return def
	}
	return n
}

func asList(v interface{}) ([]interface{}, bool) {
	l, ok := v.([]interface{})
	return l, ok
}

// --- String filters ---

func filterUpperCase(value interface{}, _ []interface{}) (interface{}, error) {
	return strings.ToUpper(stringify(value)), nil
}

func filterLowerCase(value interface{}, _ []interface{}) (interface{}, error) {
	return strings.ToLower(stringify(value)), nil
}

func filterCapitalize(value interface{}, _ []interface{}) (interface{}, error) {
	s := stringify(value)
	if s == "" {
		return s, nil
	}
	return strings.ToUpper(s[:1]) + s[1:], nil
}

func filterTruncate(value interface{}, args []interface{}) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("truncate requires a length argument")
	}
	n := int(argNumber(args, 0, 0))
	suffix := argString(args, 1, "...")
	s := stringify(value)
	if len(s) <= n {
		return s, nil
	}
	if n < 0 {
		n = 0
	}
	return s[:n] + suffix, nil
}

func filterDefault(value interface{}, args []interface{}) (interface{}, error) {
	if !truthy(value) {
		if len(args) > 0 {
			return args[0], nil
		}
		return nil, nil
	}
	return value, nil
}

// --- Number filters ---

func filterRound(value interface{}, args []interface{}) (interface{}, error) {
	n, _, ok := toNumber(value)
	if !ok {
		return nil, fmt.Errorf("round requires a number")
	}
	digits := int(argNumber(args, 0, 0))
	mult := math.Pow(10, float64(digits))
	return math.Round(n*mult) / mult, nil
}

func filterFormatCurrency(value interface{}, args []interface{}) (interface{}, error) {
	n, _, ok := toNumber(value)
	if !ok {
		return nil, fmt.Errorf("format_currency requires a number")
	}
	code := argString(args, 0, "USD")
	return fmt.Sprintf("%s %.2f", code, n), nil
}

func filterAbs(value interface{}, _ []interface{}) (interface{}, error) {
	n, _, ok := toNumber(value)
	if !ok {
		return nil, fmt.Errorf("abs requires a number")
	}
	return math.Abs(n), nil
}

func filterCeil(value interface{}, _ []interface{}) (interface{}, error) {
	n, _, ok := toNumber(value)
	if !ok {
		return nil, fmt.Errorf("ceil requires a number")
	}
	return int64(math.Ceil(n)), nil
}

func filterFloor(value interface{}, _ []interface{}) (interface{}, error) {
	n, _, ok := toNumber(value)
	if !ok {
		return nil, fmt.Errorf("floor requires a number")
	}
	return int64(math.Floor(n)), nil
}

func filterMax(value interface{}, args []interface{}) (interface{}, error) {
	n, _, ok := toNumber(value)
	if !ok {
		return nil, fmt.Errorf("max requires a number")
	}
	other := argNumber(args, 0, n)
	return math.Max(n, other), nil
}

func filterMin(value interface{}, args []interface{}) (interface{}, error) {
	n, _, ok := toNumber(value)
	if !ok {
		return nil, fmt.Errorf("min requires a number")
	}
	other := argNumber(args, 0, n)
	return math.Min(n, other), nil
}

func filterPower(value interface{}, args []interface{}) (interface{}, error) {
	n, _, ok := toNumber(value)
	if !ok {
		return nil, fmt.Errorf("power requires a number")
	}
	exp := argNumber(args, 0, 1)
	return math.Pow(n, exp), nil
}

func filterSqrt(value interface{}, _ []interface{}) (interface{}, error) {
	n, _, ok := toNumber(value)
	if !ok {
		return nil, fmt.Errorf("sqrt requires a number")
	}
	if n < 0 {
		return nil, fmt.Errorf("sqrt of negative number")
	}
	return math.Sqrt(n), nil
}

func filterModulo(value interface{}, args []interface{}) (interface{}, error) {
	n, _, ok := toNumber(value)
	if !ok {
		return nil, fmt.Errorf("modulo requires a number")
	}
	d := argNumber(args, 0, 1)
	if d == 0 {
		return nil, fmt.Errorf("modulo by zero")
	}
	return math.Mod(n, d), nil
}

func filterClamp(value interface{}, args []interface{}) (interface{}, error) {
	n, _, ok := toNumber(value)
	if !ok {
		return nil, fmt.Errorf("clamp requires a number")
	}
	lo := argNumber(args, 0, n)
	hi := argNumber(args, 1, n)
	return math.Min(math.Max(n, lo), hi), nil
}

// --- Collection filters ---

func filterLength(value interface{}, _ []interface{}) (interface{}, error) {
	switch v := value.(type) {
	case []interface{}:
		return int64(len(v)), nil
	case string:
		return int64(len(v)), nil
	case map[string]interface{}:
		return int64(len(v)), nil
	default:
		return nil, fmt.Errorf("length requires a collection or string")
	}
}

func filterFirst(value interface{}, _ []interface{}) (interface{}, error) {
	l, ok := asList(value)
	if !ok || len(l) == 0 {
		return nil, nil
	}
	return l[0], nil
}

func filterLast(value interface{}, _ []interface{}) (interface{}, error) {
	l, ok := asList(value)
	if !ok || len(l) == 0 {
		return nil, nil
	}
	return l[len(l)-1], nil
}

func filterJoin(value interface{}, args []interface{}) (interface{}, error) {
	l, ok := asList(value)
	if !ok {
		return nil, fmt.Errorf("join requires a list")
	}
	sep := argString(args, 0, ", ")
	parts := make([]string, len(l))
	for i, e := range l {
		parts[i] = stringify(e)
	}
	return strings.Join(parts, sep), nil
}

func filterSort(value interface{}, _ []interface{}) (interface{}, error) {
	l, ok := asList(value)
	if !ok {
		return nil, fmt.Errorf("sort requires a list")
	}
	out := append([]interface{}(nil), l...)
	sort.Slice(out, func(i, j int) bool {
		ni, _, iok := toNumber(out[i])
		nj, _, jok := toNumber(out[j])
		if iok && jok {
			return ni < nj
		}
		return stringify(out[i]) < stringify(out[j])
	})
	return out, nil
}

func filterReverse(value interface{}, _ []interface{}) (interface{}, error) {
	l, ok := asList(value)
	if !ok {
		return nil, fmt.Errorf("reverse requires a list")
	}
	out := make([]interface{}, len(l))
	for i, e := range l {
		out[len(l)-1-i] = e
	}
	return out, nil
}

func filterUniq(value interface{}, _ []interface{}) (interface{}, error) {
	l, ok := asList(value)
	if !ok {
		return nil, fmt.Errorf("uniq requires a list")
	}
	seen := make(map[string]bool, len(l))
	var out []interface{}
	for _, e := range l {
		k := stringify(e)
		if !seen[k] {
			seen[k] = true
			out = append(out, e)
		}
	}
	return out, nil
}

func filterSlice(value interface{}, args []interface{}) (interface{}, error) {
	l, ok := asList(value)
	if !ok {
		return nil, fmt.Errorf("slice requires a list")
	}
	start := int(argNumber(args, 0, 0))
	count := int(argNumber(args, 1, float64(len(l))))
	if start < 0 {
		start = 0
	}
	if start > len(l) {
		start = len(l)
	}
	end := start + count
	if end > len(l) {
		end = len(l)
	}
	if end < start {
		end = start
	}
	return append([]interface{}(nil), l[start:end]...), nil
}

func filterContains(value interface{}, args []interface{}) (interface{}, error) {
	if len(args) == 0 {
		return false, nil
	}
	needle := args[0]
	switch v := value.(type) {
	case []interface{}:
		for _, e := range v {
			if stringify(e) == stringify(needle) {
				return true, nil
			}
		}
		return false, nil
	case string:
		return strings.Contains(v, stringify(needle)), nil
	default:
		return false, nil
	}
}

func filterCompact(value interface{}, _ []interface{}) (interface{}, error) {
	l, ok := asList(value)
	if !ok {
		return nil, fmt.Errorf("compact requires a list")
	}
	var out []interface{}
	for _, e := range l {
		if truthy(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func filterFlatten(value interface{}, _ []interface{}) (interface{}, error) {
	l, ok := asList(value)
	if !ok {
		return nil, fmt.Errorf("flatten requires a list")
	}
	var out []interface{}
	var walk func([]interface{})
	walk = func(items []interface{}) {
		for _, e := range items {
			if sub, ok := e.([]interface{}); ok {
				walk(sub)
				continue
			}
			out = append(out, e)
		}
	}
	walk(l)
	return out, nil
}

func filterSum(value interface{}, _ []interface{}) (interface{}, error) {
	l, ok := asList(value)
	if !ok {
		return nil, fmt.Errorf("sum requires a list")
	}
	allIntegral := true
	var total float64
	for _, e := range l {
		n, integral, ok := toNumber(e)
		if !ok {
			return nil, fmt.Errorf("sum requires a list of numbers")
		}
		if !integral {
			allIntegral = false
		}
		total += n
	}
	if allIntegral {
		return int64(total), nil
	}
	return total, nil
}

func filterKeys(value interface{}, _ []interface{}) (interface{}, error) {
	m, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("keys requires a map")
	}
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	out := make([]interface{}, len(ks))
	for i, k := range ks {
		out[i] = k
	}
	return out, nil
}

func filterValues(value interface{}, _ []interface{}) (interface{}, error) {
	m, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("values requires a map")
	}
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	out := make([]interface{}, len(ks))
	for i, k := range ks {
		out[i] = m[k]
	}
	return out, nil
}

func fieldOf(item interface{}, field string) interface{} {
	m, ok := item.(map[string]interface{})
	if !ok {
		return nil
	}
	return m[field]
}

func filterGroupBy(value interface{}, args []interface{}) (interface{}, error) {
	l, ok := asList(value)
	if !ok || len(args) == 0 {
		return nil, fmt.Errorf("group_by requires a list and a field name")
	}
	field := stringify(args[0])
	out := make(map[string]interface{})
	for _, item := range l {
		key := stringify(fieldOf(item, field))
		group, _ := out[key].([]interface{})
		out[key] = append(group, item)
	}
	return out, nil
}

func filterMap(value interface{}, args []interface{}) (interface{}, error) {
	l, ok := asList(value)
	if !ok || len(args) == 0 {
		return nil, fmt.Errorf("map requires a list and a field name")
	}
	field := stringify(args[0])
	out := make([]interface{}, len(l))
	for i, item := range l {
		out[i] = fieldOf(item, field)
	}
	return out, nil
}

func filterFilterBy(value interface{}, args []interface{}) (interface{}, error) {
	l, ok := asList(value)
	if !ok || len(args) < 2 {
		return nil, fmt.Errorf("filter requires a list, a field name, and a value")
	}
	field := stringify(args[0])
	want := stringify(args[1])
	var out []interface{}
	for _, item := range l {
		if stringify(fieldOf(item, field)) == want {
			out = append(out, item)
		}
	}
	return out, nil
}

func filterRejectBy(value interface{}, args []interface{}) (interface{}, error) {
	l, ok := asList(value)
	if !ok || len(args) < 2 {
		return nil, fmt.Errorf("reject requires a list, a field name, and a value")
	}
	field := stringify(args[0])
	want := stringify(args[1])
	var out []interface{}
	for _, item := range l {
		if stringify(fieldOf(item, field)) != want {
			out = append(out, item)
		}
	}
	return out, nil
}

func filterDump(value interface{}, _ []interface{}) (interface{}, error) {
	return stringify(value), nil
}
