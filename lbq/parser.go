package lbq

import (
	"strings"

	"github.com/go-errors/errors"
	"github.com/valyala/fastjson"
)

var filterPool fastjson.ParserPool
var wherePool fastjson.ParserPool
var fieldsPool fastjson.ParserPool
var orderPool fastjson.ParserPool
var includePool fastjson.ParserPool

func parseWhereValue(where *fastjson.Value) (Where, error) {
	if where == nil {
		return nil, nil
	}

	if where.Type() != fastjson.TypeObject {
		return nil, errors.New("invalid where filter")
	}

	obj, _ := where.Object()

	for _, op := range []string{"like", "nlike"} {
		if cond := obj.Get(op); cond != nil {
			return Where{
				op:        getRawValue(cond),
				"options": getRawValue(obj.Get("options")),
			}, nil
		}
	}

	var nestedError error
	result := Where{}
	obj.Visit(func(key []byte, v *fastjson.Value) {
		if nestedError != nil {
			return
		}

		keyStr := string(key)
		if strings.HasPrefix(keyStr, "$") {
			nestedError = errors.Errorf("invalid use of operator or field: %s", keyStr)
			return
		}

		valueType := v.Type()
		switch {
		case keyStr == "and" || keyStr == "or":
			if valueType != fastjson.TypeArray {
				nestedError = errors.New("invalid query")
				return
			}
			andOr := AndOrCondition{}
			for _, nested := range v.GetArray() {
				cond, err := parseWhereValue(nested)
				if err != nil {
					nestedError = err
					return
				}
				andOr = append(andOr, cond)
			}
			result[keyStr] = andOr
		case keyStr == "size":
			size, err := parseSizeValue(v)
			if err != nil {
				nestedError = err
				return
			}
			result[keyStr] = size
		case valueType == fastjson.TypeObject:
			nested, err := parseWhereValue(v)
			if err != nil {
				nestedError = err
				return
			}
			result[keyStr] = nested
		default:
			isOp := IsOperator(keyStr)
			if isOp && (keyStr == "inq" || keyStr == "nin") && valueType != fastjson.TypeArray {
				nestedError = errors.New("invalid query")
				return
			}
			if isOp {
				result[keyStr] = getRawValue(v)
			} else {
				result[keyStr] = Where{"eq": getRawValue(v)}
			}
		}
	})

	return result, nestedError
}

// parseSizeValue accepts either a bare number (exact cardinality) or an object of comparisons.
func parseSizeValue(v *fastjson.Value) (any, error) {
	switch v.Type() { //nolint:exhaustive
	case fastjson.TypeNumber:
		return v.GetInt64(), nil
	case fastjson.TypeObject:
		result := Where{}
		var err error
		v.GetObject().Visit(func(key []byte, cmp *fastjson.Value) {
			op := string(key)
			if !IsComparison(op) || cmp.Type() != fastjson.TypeNumber {
				err = errors.Errorf("invalid size condition: %s", op)
				return
			}
			result[op] = cmp.GetInt64()
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	default:
		return nil, errors.New("invalid size condition")
	}
}

func getRawValue(v *fastjson.Value) interface{} {
	if v == nil {
		return nil
	}

	switch v.Type() { //nolint:exhaustive
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return v.GetFloat64()
	case fastjson.TypeFalse:
		return false
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeArray:
		var value []interface{}
		for _, current := range v.GetArray() {
			value = append(value, getRawValue(current))
		}
		return value
	}

	return nil
}

func parseOrderValue(order *fastjson.Value) ([]Order, error) {
	switch order.Type() { //nolint:exhaustive
	case fastjson.TypeString:
		lbOrder, err := parseOrderStr(string(order.GetStringBytes()))
		if err != nil {
			return nil, err
		}
		return []Order{lbOrder}, nil
	case fastjson.TypeArray:
		var result []Order
		for _, value := range order.GetArray() {
			if value.Type() != fastjson.TypeString {
				return nil, errors.New("invalid order param")
			}
			lbOrder, err := parseOrderStr(string(value.GetStringBytes()))
			if err != nil {
				return nil, err
			}
			result = append(result, lbOrder)
		}
		return result, nil
	}

	return nil, errors.New("invalid order param")
}

func parseOrderStr(orderStr string) (Order, error) {
	sort := strings.Fields(orderStr)
	if len(sort) != 2 {
		return Order{}, errors.New("invalid order param")
	}

	direction := strings.ToUpper(sort[1])
	if direction != "ASC" && direction != "DESC" {
		return Order{}, errors.New("invalid order param")
	}

	return Order{Field: sort[0], Direction: direction}, nil
}

func parseFieldsValue(v *fastjson.Value) (map[string]bool, error) {
	fields := map[string]bool{}
	switch v.Type() { //nolint:exhaustive
	case fastjson.TypeArray:
		for _, value := range v.GetArray() {
			if value.Type() != fastjson.TypeString {
				return nil, errors.New("invalid fields param")
			}
			fields[string(value.GetStringBytes())] = true
		}
	case fastjson.TypeObject:
		v.GetObject().Visit(func(key []byte, v *fastjson.Value) {
			switch v.Type() { //nolint:exhaustive
			case fastjson.TypeFalse:
				fields[string(key)] = false
			case fastjson.TypeTrue:
				fields[string(key)] = true
			}
		})
	default:
		return nil, errors.New("invalid fields param")
	}
	return fields, nil
}

func parseIncludeValue(include *fastjson.Value) ([]Include, error) {
	if include == nil {
		return nil, nil
	}

	var result []Include
	switch include.Type() { //nolint:exhaustive
	case fastjson.TypeString:
		for _, relation := range strings.Split(string(include.GetStringBytes()), ",") {
			result = append(result, Include{Relation: strings.TrimSpace(relation)})
		}
	case fastjson.TypeObject:
		obj, _ := include.Object()
		relationName := obj.Get("relation")
		if relationName == nil || relationName.Type() != fastjson.TypeString {
			return nil, errors.New("invalid relation name")
		}

		var scopeValue *Filter
		if scope := obj.Get("scope"); scope != nil {
			if scope.Type() != fastjson.TypeObject {
				return nil, errors.New("invalid relation scope")
			}
			var err error
			if scopeValue, err = parseFilterValue(scope); err != nil {
				return nil, err
			}
		}

		result = append(result, Include{
			Relation: string(relationName.GetStringBytes()),
			Scope:    scopeValue,
		})
	case fastjson.TypeArray:
		for _, value := range include.GetArray() {
			includes, err := parseIncludeValue(value)
			if err != nil {
				return nil, err
			}
			result = append(result, includes...)
		}
	}

	return result, nil
}

func parseFilterValue(parsedFilter *fastjson.Value) (*Filter, error) {
	if parsedFilter.Type() != fastjson.TypeObject {
		return nil, errors.New("invalid filter")
	}

	filter := &Filter{}
	if whereValue := parsedFilter.Get("where"); whereValue != nil {
		lbWhere, err := parseWhereValue(whereValue)
		if err != nil {
			return nil, err
		}
		filter.Where = lbWhere
	}

	if orderValue := parsedFilter.Get("order"); orderValue != nil {
		lbOrder, err := parseOrderValue(orderValue)
		if err != nil {
			return nil, err
		}
		filter.Order = lbOrder
	}

	if fieldsValue := parsedFilter.Get("fields"); fieldsValue != nil {
		fields, err := parseFieldsValue(fieldsValue)
		if err != nil {
			return nil, err
		}
		filter.Fields = fields
	}

	if limitValue := parsedFilter.Get("limit"); limitValue != nil {
		filter.Limit = limitValue.GetUint()
	}

	if skipValue := parsedFilter.Get("skip"); skipValue != nil {
		filter.Skip = skipValue.GetUint()
	}

	if includeValue := parsedFilter.Get("include"); includeValue != nil {
		includes, err := parseIncludeValue(includeValue)
		if err != nil {
			return nil, err
		}
		filter.Include = includes
	}
	return filter, nil
}

func ParseWhere(f string) (Where, error) {
	parser := wherePool.Get()
	defer wherePool.Put(parser)

	parsed, err := parser.Parse(f)
	if err != nil {
		return nil, errors.New("cannot parse where query")
	}
	return parseWhereValue(parsed)
}

func ParseOrder(f string) ([]Order, error) {
	parser := orderPool.Get()
	defer orderPool.Put(parser)

	parsed, err := parser.Parse(f)
	if err != nil {
		return nil, errors.New("cannot parse order query")
	}
	return parseOrderValue(parsed)
}

func ParseFields(f string) (map[string]bool, error) {
	parser := fieldsPool.Get()
	defer fieldsPool.Put(parser)

	parsed, err := parser.Parse(f)
	if err != nil {
		return nil, errors.New("cannot parse fields query")
	}
	return parseFieldsValue(parsed)
}

func ParseInclude(f string) ([]Include, error) {
	parser := includePool.Get()
	defer includePool.Put(parser)

	parsed, err := parser.Parse(f)
	if err != nil {
		return nil, errors.New("cannot parse includes")
	}
	return parseIncludeValue(parsed)
}

func ParseFilter(f string) (*Filter, error) {
	parser := filterPool.Get()
	defer filterPool.Put(parser)

	parsed, err := parser.Parse(f)
	if err != nil {
		return nil, errors.New("cannot parse filter")
	}
	return parseFilterValue(parsed)
}
