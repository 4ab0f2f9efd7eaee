package lbq

var operators = map[string]bool{
	"eq":     true,
	"neq":    true,
	"gt":     true,
	"gte":    true,
	"lt":     true,
	"lte":    true,
	"inq":    true,
	"nin":    true,
	"and":    true,
	"or":     true,
	"like":   true,
	"nlike":  true,
	"exists": true,
	"size":   true,
} // @name Operator

// ComparisonOperators are the operators accepted inside a "size" condition.
var ComparisonOperators = []string{"eq", "neq", "gt", "gte", "lt", "lte"}

type AndOrCondition []Where

type Where map[string]interface{} // @name Where

type Fields map[string]bool // @name Fields

type Order struct {
	Field     string `json:"field,omitempty"`
	Direction string `json:"Direction,omitempty"`
} // @name Order

type Filter struct {
	Fields  Fields    `json:"fields,omitempty"`
	Limit   uint      `json:"limit,omitempty"`
	Order   []Order   `json:"order,omitempty"`
	Skip    uint      `json:"skip,omitempty"`
	Where   Where     `json:"where,omitempty"`
	Include []Include `json:"include,omitempty"`
} // @name Filter

type Include struct {
	Relation string  `json:"relation,omitempty"`
	Scope    *Filter `json:"scope,omitempty"`
} // @name Include

// IsOperator reports whether key is a filter operator rather than a field name.
func IsOperator(key string) bool {
	return operators[key]
}

// IsComparison reports whether op may be used inside a "size" condition.
func IsComparison(op string) bool {
	for _, candidate := range ComparisonOperators {
		if candidate == op {
			return true
		}
	}
	return false
}
