package database

import (
	"reflect"
	"strings"

	"github.com/go-errors/errors"
	"github.com/xompass/vsaas-relations/lbq"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var Operators = map[string]string{
	"eq":     "$eq",
	"neq":    "$ne",
	"gt":     "$gt",
	"gte":    "$gte",
	"lt":     "$lt",
	"lte":    "$lte",
	"inq":    "$in",
	"nin":    "$nin",
	"and":    "$and",
	"or":     "$or",
	"exists": "$exists",
}

type MongoFilterOptions struct {
	Limit  *int64
	Skip   *int64
	Sort   bson.D
	Fields map[string]bool
}

type MongoFilter struct {
	Where   bson.M
	Options MongoFilterOptions
}

func adaptLoopbackFilter(filter *lbq.Filter) (MongoFilter, error) {
	result := MongoFilter{Where: bson.M{}}
	if filter == nil {
		return result, nil
	}

	where, err := buildWhere(filter.Where)
	if err != nil {
		return result, err
	}
	if len(where) == 0 && len(filter.Where) != 0 {
		return result, errors.New("invalid where parameter")
	}
	result.Where = where

	result.Options.Sort = buildSort(filter.Order)
	if filter.Limit != 0 {
		limit := int64(filter.Limit)
		result.Options.Limit = &limit
	}
	if filter.Skip != 0 {
		skip := int64(filter.Skip)
		result.Options.Skip = &skip
	}
	if len(filter.Fields) > 0 {
		result.Options.Fields = filter.Fields
	}

	return result, nil
}

func buildSort(order []lbq.Order) bson.D {
	sort := bson.D{}
	for _, lbOrder := range order {
		if lbOrder.Direction == "DESC" {
			sort = append(sort, bson.E{Key: lbOrder.Field, Value: -1})
		} else {
			sort = append(sort, bson.E{Key: lbOrder.Field, Value: 1})
		}
	}
	return sort
}

// buildWhere translates a condition tree into a MongoDB query document.
// Field names are passed through; values are expected in stored form.
func buildWhere(where lbq.Where) (bson.M, error) {
	query := bson.M{}
	var exprs bson.A

	for key, val := range where {
		if strings.HasPrefix(key, "$") {
			return nil, errors.Errorf("invalid where parameter. %s is not allowed", key)
		}

		if key == "and" || key == "or" {
			conditions, ok := val.(lbq.AndOrCondition)
			if !ok {
				return nil, errors.Errorf("invalid %s condition", key)
			}
			arr := bson.A{}
			for _, condition := range conditions {
				sub, err := buildWhere(condition)
				if err != nil {
					return nil, err
				}
				if len(sub) > 0 {
					arr = append(arr, sub)
				}
			}
			if len(arr) == 0 {
				return nil, errors.New("invalid and/or condition")
			}
			query[Operators[key]] = arr
			continue
		}

		ops, isOps := asWhere(val)
		if !isOps || !hasOperators(ops) {
			query[key] = val
			continue
		}

		fieldQuery, expr, err := buildFieldCondition(key, ops)
		if err != nil {
			return nil, err
		}
		if len(fieldQuery) > 0 {
			query[key] = fieldQuery
		}
		exprs = append(exprs, expr...)
	}

	switch len(exprs) {
	case 0:
	case 1:
		query["$expr"] = exprs[0]
	default:
		query["$expr"] = bson.M{"$and": exprs}
	}

	return query, nil
}

func buildFieldCondition(field string, ops lbq.Where) (bson.M, bson.A, error) {
	query := bson.M{}
	var exprs bson.A

	for op, val := range ops {
		switch op {
		case "like":
			query["$regex"] = val
			if opts, ok := ops["options"]; ok && opts != nil {
				query["$options"] = opts
			}
		case "nlike":
			regex := bson.M{"$regex": val}
			if opts, ok := ops["options"]; ok && opts != nil {
				regex["$options"] = opts
			}
			query["$not"] = regex
		case "options":
		case "exists":
			if _, ok := val.(bool); !ok {
				return nil, nil, errors.New("invalid where parameter. exists must be boolean")
			}
			query["$exists"] = val
		case "inq", "nin":
			if !isList(val) {
				return nil, nil, errors.Errorf("invalid where parameter. %s requires a list", op)
			}
			query[Operators[op]] = val
		case "size":
			sizeExprs, err := buildSizeExpr(field, val)
			if err != nil {
				return nil, nil, err
			}
			exprs = append(exprs, sizeExprs...)
		default:
			mongoOp, ok := Operators[op]
			if !ok || op == "and" || op == "or" {
				return nil, nil, errors.Errorf("invalid operator %s on field %s", op, field)
			}
			query[mongoOp] = val
		}
	}

	return query, exprs, nil
}

// buildSizeExpr compares the cardinality of an array attribute, treating a
// missing attribute as an empty array.
func buildSizeExpr(field string, val any) (bson.A, error) {
	size := bson.M{"$size": bson.M{"$ifNull": bson.A{"$" + field, bson.A{}}}}

	if n, ok := asInt64(val); ok {
		return bson.A{bson.M{"$eq": bson.A{size, n}}}, nil
	}

	comparisons, ok := asWhere(val)
	if !ok || len(comparisons) == 0 {
		return nil, errors.Errorf("invalid size condition on field %s", field)
	}

	var exprs bson.A
	for op, raw := range comparisons {
		n, ok := asInt64(raw)
		if !ok || !lbq.IsComparison(op) {
			return nil, errors.Errorf("invalid size condition on field %s", field)
		}
		exprs = append(exprs, bson.M{Operators[op]: bson.A{size, n}})
	}
	return exprs, nil
}

func asWhere(val any) (lbq.Where, bool) {
	switch v := val.(type) {
	case lbq.Where:
		return v, true
	case map[string]any:
		return lbq.Where(v), true
	case bson.M:
		return lbq.Where(v), true
	}
	return nil, false
}

func hasOperators(where lbq.Where) bool {
	if len(where) == 0 {
		return false
	}
	for key := range where {
		if !lbq.IsOperator(key) && key != "options" {
			return false
		}
	}
	return true
}

func isList(val any) bool {
	if val == nil {
		return false
	}
	return reflect.TypeOf(val).Kind() == reflect.Slice
}

func asInt64(val any) (int64, bool) {
	switch v := val.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}
