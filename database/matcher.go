package database

import (
	"bytes"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-errors/errors"
	"github.com/xompass/vsaas-relations/lbq"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// matchWhere evaluates a condition tree against a document with MongoDB
// query semantics: equality on arrays matches any element, null matches a
// missing attribute and the size of a missing array is zero.
func matchWhere(doc bson.M, where lbq.Where) (bool, error) {
	for key, val := range where {
		switch key {
		case "and", "or":
			conditions, ok := val.(lbq.AndOrCondition)
			if !ok {
				return false, errors.Errorf("invalid %s condition", key)
			}
			matched, err := matchAndOr(doc, key, conditions)
			if err != nil || !matched {
				return false, err
			}
			continue
		}

		if strings.HasPrefix(key, "$") {
			return false, errors.Errorf("invalid where parameter. %s is not allowed", key)
		}

		value, found := LookupPath(doc, key)
		ops, isOps := asWhere(val)
		if !isOps || !hasOperators(ops) {
			if !matchEq(value, found, val) {
				return false, nil
			}
			continue
		}

		matched, err := matchOperators(value, found, ops)
		if err != nil || !matched {
			return false, err
		}
	}
	return true, nil
}

func matchAndOr(doc bson.M, operator string, conditions lbq.AndOrCondition) (bool, error) {
	for _, condition := range conditions {
		matched, err := matchWhere(doc, condition)
		if err != nil {
			return false, err
		}
		if operator == "or" && matched {
			return true, nil
		}
		if operator == "and" && !matched {
			return false, nil
		}
	}
	return operator == "and", nil
}

func matchOperators(value any, found bool, ops lbq.Where) (bool, error) {
	for op, cond := range ops {
		var matched bool
		switch op {
		case "options":
			continue
		case "eq":
			matched = matchEq(value, found, cond)
		case "neq":
			matched = !matchEq(value, found, cond)
		case "gt", "gte", "lt", "lte":
			matched = matchCompare(value, found, op, cond)
		case "inq", "nin":
			list, ok := ToSlice(cond)
			if !ok {
				return false, errors.Errorf("invalid where parameter. %s requires a list", op)
			}
			hit := false
			for _, candidate := range list {
				if matchEq(value, found, candidate) {
					hit = true
					break
				}
			}
			matched = hit == (op == "inq")
		case "exists":
			exists, ok := cond.(bool)
			if !ok {
				return false, errors.New("invalid where parameter. exists must be boolean")
			}
			matched = found == exists
		case "like", "nlike":
			re, err := compileLike(cond, ops["options"])
			if err != nil {
				return false, err
			}
			str, isString := value.(string)
			matched = isString && re.MatchString(str)
			if op == "nlike" {
				matched = !matched
			}
		case "size":
			var err error
			if matched, err = matchSize(value, found, cond); err != nil {
				return false, err
			}
		default:
			return false, errors.Errorf("unsupported operator %s", op)
		}

		if !matched {
			return false, nil
		}
	}
	return true, nil
}

func matchEq(value any, found bool, cond any) bool {
	if cond == nil {
		if !found || value == nil {
			return true
		}
	}
	if elements, ok := ToSlice(value); ok {
		for _, element := range elements {
			if valuesEqual(element, cond) {
				return true
			}
		}
		if condElements, ok := ToSlice(cond); ok {
			return slicesEqual(elements, condElements)
		}
		return false
	}
	if !found {
		return false
	}
	return valuesEqual(value, cond)
}

func matchCompare(value any, found bool, op string, cond any) bool {
	if !found {
		return false
	}
	if elements, ok := ToSlice(value); ok {
		for _, element := range elements {
			if matchCompare(element, true, op, cond) {
				return true
			}
		}
		return false
	}
	result, ok := compareValues(value, cond)
	if !ok {
		return false
	}
	return compareResult(result, op)
}

func matchSize(value any, found bool, cond any) (bool, error) {
	var size int64
	if found && value != nil {
		elements, ok := ToSlice(value)
		if !ok {
			return false, nil
		}
		size = int64(len(elements))
	}

	if n, ok := asInt64(cond); ok {
		return size == n, nil
	}

	comparisons, ok := asWhere(cond)
	if !ok || len(comparisons) == 0 {
		return false, errors.New("invalid size condition")
	}
	for op, raw := range comparisons {
		n, ok := asInt64(raw)
		if !ok || !lbq.IsComparison(op) {
			return false, errors.New("invalid size condition")
		}
		result := 0
		if size < n {
			result = -1
		} else if size > n {
			result = 1
		}
		if !compareResult(result, op) {
			return false, nil
		}
	}
	return true, nil
}

func compareResult(result int, op string) bool {
	switch op {
	case "eq":
		return result == 0
	case "neq":
		return result != 0
	case "gt":
		return result > 0
	case "gte":
		return result >= 0
	case "lt":
		return result < 0
	case "lte":
		return result <= 0
	}
	return false
}

func compileLike(pattern any, options any) (*regexp.Regexp, error) {
	expr, ok := pattern.(string)
	if !ok {
		return nil, errors.New("invalid like pattern")
	}
	if opts, ok := options.(string); ok && strings.Contains(opts, "i") {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	return re, nil
}

// LookupPath reads a dotted attribute path from doc.
func LookupPath(doc bson.M, path string) (any, bool) {
	var current any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		if current, ok = m[part]; !ok {
			return nil, false
		}
	}
	return current, true
}

func asMap(val any) (map[string]any, bool) {
	switch v := val.(type) {
	case bson.M:
		return v, true
	case map[string]any:
		return v, true
	case lbq.Where:
		return v, true
	case bson.D:
		m := make(map[string]any, len(v))
		for _, e := range v {
			m[e.Key] = e.Value
		}
		return m, true
	}
	return nil, false
}

// ToSlice returns the elements of any slice value except []byte.
func ToSlice(val any) ([]any, bool) {
	switch v := val.(type) {
	case nil, []byte:
		return nil, false
	case bson.A:
		return v, true
	case []any:
		return v, true
	}
	rv := reflect.ValueOf(val)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func slicesEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !valuesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if result, ok := compareValues(a, b); ok {
		return result == 0
	}
	if left, ok := ToSlice(a); ok {
		right, ok := ToSlice(b)
		return ok && slicesEqual(left, right)
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two values of the same family. ok is false when the
// values are not comparable with each other.
func compareValues(a, b any) (int, bool) {
	if left, ok := toFloat(a); ok {
		right, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case left < right:
			return -1, true
		case left > right:
			return 1, true
		}
		return 0, true
	}

	switch left := a.(type) {
	case string:
		right, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(left, right), true
	case bool:
		right, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if left == right {
			return 0, true
		}
		if !left {
			return -1, true
		}
		return 1, true
	case bson.ObjectID:
		right, ok := b.(bson.ObjectID)
		if !ok {
			return 0, false
		}
		return bytes.Compare(left[:], right[:]), true
	case time.Time:
		right, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return left.Compare(right), true
	case bson.DateTime:
		right, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return left.Time().Compare(right), true
	}
	return 0, false
}

func toTime(val any) (time.Time, bool) {
	switch v := val.(type) {
	case time.Time:
		return v, true
	case bson.DateTime:
		return v.Time(), true
	}
	return time.Time{}, false
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
