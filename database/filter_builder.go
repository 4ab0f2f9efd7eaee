package database

import (
	"maps"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-errors/errors"
	"github.com/xompass/vsaas-relations/lbq"
)

const (
	FILTER_FIELD_EMPTY                    = "FILTER_FIELD_EMPTY"
	FILTER_INVALID_DIRECTION              = "FILTER_INVALID_DIRECTION"
	FILTER_INVALID_COMPARISON             = "FILTER_INVALID_COMPARISON"
	FILTER_WHERE_EMPTY                    = "FILTER_WHERE_EMPTY"
	FILTER_CANNOT_MIX_INCLUSION_EXCLUSION = "FILTER_CANNOT_MIX_INCLUSION_EXCLUSION"
	FILTER_WHERE_CANNOT_BE_NIL            = "FILTER_WHERE_CANNOT_BE_NIL"
)

type FilterBuilder struct {
	where   []lbq.Where
	fields  lbq.Fields
	limit   *uint
	skip    *uint
	order   []lbq.Order
	include []lbq.Include
	err     error
}

func NewFilter() *FilterBuilder {
	return &FilterBuilder{
		fields: lbq.Fields{},
	}
}

func (b *FilterBuilder) Fields(fields map[string]bool) *FilterBuilder {
	maps.Copy(b.fields, fields)
	return b
}

func (b *FilterBuilder) Limit(limit uint) *FilterBuilder {
	b.limit = &limit
	return b
}

func (b *FilterBuilder) Skip(skip uint) *FilterBuilder {
	b.skip = &skip
	return b
}

func (b *FilterBuilder) orderBy(field string, direction string) *FilterBuilder {
	if err := validateField(field); err != nil {
		b.err = err
		return b
	}
	direction = strings.ToUpper(direction)
	if direction != "ASC" && direction != "DESC" {
		b.err = errors.New(FILTER_INVALID_DIRECTION)
		return b
	}
	b.order = append(b.order, lbq.Order{Field: field, Direction: direction})
	return b
}

func (b *FilterBuilder) OrderByAsc(field string) *FilterBuilder {
	return b.orderBy(field, "ASC")
}

func (b *FilterBuilder) OrderByDesc(field string) *FilterBuilder {
	return b.orderBy(field, "DESC")
}

// Include asks the relation layer to eager load relation on the results.
func (b *FilterBuilder) Include(relation string, scope *lbq.Filter) *FilterBuilder {
	b.include = append(b.include, lbq.Include{Relation: relation, Scope: scope})
	return b
}

func (b *FilterBuilder) WithWhere(builder *WhereBuilder) *FilterBuilder {
	where, err := builder.Build()
	if err != nil {
		b.err = err
		return b
	}
	return b.Where(where)
}

// Where appends an already built condition tree. Conditions are ANDed.
func (b *FilterBuilder) Where(where lbq.Where) *FilterBuilder {
	if len(where) == 0 {
		b.err = errors.New(FILTER_WHERE_EMPTY)
		return b
	}
	b.where = append(b.where, where)
	return b
}

func (b *FilterBuilder) Build() (*lbq.Filter, error) {
	if b.err != nil {
		return nil, b.err
	}

	if !isValidProjection(b.fields) {
		return nil, errors.New(FILTER_CANNOT_MIX_INCLUSION_EXCLUSION)
	}

	return &lbq.Filter{
		Where:   joinWhere(b.where, "and"),
		Fields:  b.fields,
		Order:   b.order,
		Limit:   derefUint(b.limit),
		Skip:    derefUint(b.skip),
		Include: b.include,
	}, nil
}

// FromLBFilter seeds the builder from a parsed loopback filter.
func (b *FilterBuilder) FromLBFilter(filter *lbq.Filter) *FilterBuilder {
	if filter == nil {
		return b
	}

	if len(filter.Where) > 0 {
		b.where = []lbq.Where{filter.Where}
	}
	if filter.Fields != nil {
		b.fields = filter.Fields
	}
	if filter.Limit > 0 {
		b.Limit(filter.Limit)
	}
	if filter.Skip > 0 {
		b.Skip(filter.Skip)
	}
	b.order = filter.Order
	b.include = filter.Include

	if !isValidProjection(b.fields) {
		b.err = errors.New(FILTER_CANNOT_MIX_INCLUSION_EXCLUSION)
	}
	return b
}

func (b *FilterBuilder) Clone() *FilterBuilder {
	clone := &FilterBuilder{
		where:   append([]lbq.Where(nil), b.where...),
		fields:  maps.Clone(b.fields),
		order:   append([]lbq.Order(nil), b.order...),
		include: append([]lbq.Include(nil), b.include...),
		err:     b.err,
	}
	if clone.fields == nil {
		clone.fields = lbq.Fields{}
	}
	if b.limit != nil {
		clone.Limit(*b.limit)
	}
	if b.skip != nil {
		clone.Skip(*b.skip)
	}
	return clone
}

func (b *FilterBuilder) ToJSON() (string, error) {
	filter, err := b.Build()
	if err != nil {
		return "", err
	}
	data, err := sonic.MarshalIndent(filter, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, 0)
	}
	return string(data), nil
}

// MergeConfig defines options for merging FilterBuilders
type MergeConfig struct {
	// WhereOperator defines how to combine WHERE conditions: "and" (default) or "or"
	WhereOperator string
	// AllowFieldConflicts allows the other FilterBuilder to overwrite field projections
	AllowFieldConflicts bool
	// MaxLimit caps the merged limit
	MaxLimit *uint
}

// MergeWith combines this FilterBuilder with another one into a new builder.
// Paging and ordering of other win; includes are concatenated.
func (b *FilterBuilder) MergeWith(other *FilterBuilder, config ...*MergeConfig) *FilterBuilder {
	if b == nil {
		if other == nil {
			return NewFilter()
		}
		return other.Clone()
	}
	if other == nil {
		return b.Clone()
	}
	if b.err != nil {
		return &FilterBuilder{err: b.err}
	}
	if other.err != nil {
		return &FilterBuilder{err: other.err}
	}

	mergeConfig := &MergeConfig{WhereOperator: "and"}
	if len(config) > 0 && config[0] != nil {
		mergeConfig = config[0]
	}

	result := b.Clone()

	if len(other.where) > 0 {
		if len(result.where) == 0 {
			result.where = append([]lbq.Where(nil), other.where...)
		} else {
			operator := "and"
			if mergeConfig.WhereOperator == "or" {
				operator = "or"
			}
			result.where = []lbq.Where{{
				operator: lbq.AndOrCondition{joinWhere(result.where, "and"), joinWhere(other.where, "and")},
			}}
		}
	}

	if len(other.fields) > 0 {
		if !mergeConfig.AllowFieldConflicts {
			for field, otherValue := range other.fields {
				if currentValue, exists := result.fields[field]; exists && currentValue != otherValue {
					result.err = errors.Errorf("field projection conflict for '%s': current=%v, other=%v", field, currentValue, otherValue)
					return result
				}
			}
		}
		maps.Copy(result.fields, other.fields)

		if !isValidProjection(result.fields) {
			result.err = errors.New(FILTER_CANNOT_MIX_INCLUSION_EXCLUSION)
			return result
		}
	}

	if other.limit != nil {
		limit := *other.limit
		if mergeConfig.MaxLimit != nil && limit > *mergeConfig.MaxLimit {
			limit = *mergeConfig.MaxLimit
		}
		result.Limit(limit)
	}

	if other.skip != nil {
		result.Skip(*other.skip)
	}

	if len(other.order) > 0 {
		result.order = append([]lbq.Order(nil), other.order...)
	}

	result.include = append(result.include, other.include...)
	return result
}

/************************
 * Where Builder
 ************************/

type WhereBuilder struct {
	conditions []lbq.Where
	err        error
}

func NewWhere() *WhereBuilder {
	return &WhereBuilder{}
}

// Eq matches field equal to value. On array attributes it matches any element.
func (b *WhereBuilder) Eq(field string, value any) *WhereBuilder {
	return b.op(field, "eq", value)
}

func (b *WhereBuilder) Neq(field string, value any) *WhereBuilder {
	return b.op(field, "neq", value)
}

func (b *WhereBuilder) In(field string, values any) *WhereBuilder {
	return b.op(field, "inq", values)
}

func (b *WhereBuilder) Nin(field string, values any) *WhereBuilder {
	return b.op(field, "nin", values)
}

func (b *WhereBuilder) Gt(field string, value any) *WhereBuilder {
	return b.op(field, "gt", value)
}

func (b *WhereBuilder) Gte(field string, value any) *WhereBuilder {
	return b.op(field, "gte", value)
}

func (b *WhereBuilder) Lt(field string, value any) *WhereBuilder {
	return b.op(field, "lt", value)
}

func (b *WhereBuilder) Lte(field string, value any) *WhereBuilder {
	return b.op(field, "lte", value)
}

func (b *WhereBuilder) IsNull(field string) *WhereBuilder {
	return b.op(field, "eq", nil)
}

func (b *WhereBuilder) IsNotNull(field string) *WhereBuilder {
	return b.op(field, "neq", nil)
}

func (b *WhereBuilder) Exists(field string, exists bool) *WhereBuilder {
	return b.op(field, "exists", exists)
}

// Contains matches documents whose array attribute holds value.
func (b *WhereBuilder) Contains(field string, value any) *WhereBuilder {
	return b.op(field, "eq", value)
}

// ContainsAny matches documents whose array attribute holds at least one of values.
func (b *WhereBuilder) ContainsAny(field string, values any) *WhereBuilder {
	return b.op(field, "inq", values)
}

// Size compares the number of elements of an array attribute. A missing
// attribute has size zero.
func (b *WhereBuilder) Size(field string, op string, n int64) *WhereBuilder {
	if !lbq.IsComparison(op) {
		b.err = errors.Errorf("%s: %s", FILTER_INVALID_COMPARISON, op)
		return b
	}
	return b.op(field, "size", lbq.Where{op: n})
}

func (b *WhereBuilder) Like(field string, pattern string, options ...string) *WhereBuilder {
	if err := validateField(field); err != nil {
		b.err = err
		return b
	}

	where := lbq.Where{"like": pattern}
	if len(options) > 0 {
		where["options"] = options[0]
	}
	return b.Raw(lbq.Where{field: where})
}

func (b *WhereBuilder) op(field string, op string, value any) *WhereBuilder {
	if err := validateField(field); err != nil {
		b.err = err
		return b
	}
	return b.Raw(lbq.Where{field: lbq.Where{op: value}})
}

func (b *WhereBuilder) Raw(w lbq.Where) *WhereBuilder {
	if b.err != nil {
		return b
	}
	if len(w) == 0 {
		b.err = errors.New("raw where condition cannot be empty")
		return b
	}
	b.conditions = append(b.conditions, w)
	return b
}

func (b *WhereBuilder) Or(builders ...*WhereBuilder) *WhereBuilder {
	var ors []lbq.Where
	for _, sub := range builders {
		w, err := sub.Build()
		if err != nil {
			b.err = err
			return b
		}
		if len(w) > 0 {
			ors = append(ors, w)
		}
	}
	if len(ors) > 0 {
		b.conditions = append(b.conditions, lbq.Where{"or": lbq.AndOrCondition(ors)})
	}
	return b
}

func (b *WhereBuilder) And(builders ...*WhereBuilder) *WhereBuilder {
	var flat []lbq.Where
	for _, sub := range builders {
		w, err := sub.Build()
		if err != nil {
			b.err = err
			return b
		}

		if inner, ok := w["and"].(lbq.AndOrCondition); ok && len(w) == 1 {
			flat = append(flat, inner...)
			continue
		}
		if len(w) > 0 {
			flat = append(flat, w)
		}
	}

	if len(flat) > 0 {
		b.conditions = append(b.conditions, lbq.Where{"and": lbq.AndOrCondition(flat)})
	}
	return b
}

func (b *WhereBuilder) Build() (lbq.Where, error) {
	if b == nil {
		return nil, errors.New(FILTER_WHERE_CANNOT_BE_NIL)
	}
	if b.err != nil {
		return nil, b.err
	}
	if len(b.conditions) == 0 {
		return lbq.Where{}, nil
	}
	return joinWhere(b.conditions, "and"), nil
}

func joinWhere(conditions []lbq.Where, operator string) lbq.Where {
	switch len(conditions) {
	case 0:
		return nil
	case 1:
		return conditions[0]
	}
	return lbq.Where{operator: lbq.AndOrCondition(conditions)}
}

func derefUint(p *uint) uint {
	if p == nil {
		return 0
	}
	return *p
}

func isValidProjection(fields map[string]bool) bool {
	hasTrue := false
	hasFalse := false
	for key, val := range fields {
		if key == "_id" {
			continue
		}
		if val {
			hasTrue = true
		} else {
			hasFalse = true
		}
	}
	return !(hasTrue && hasFalse)
}

func validateField(field string) error {
	if strings.TrimSpace(field) == "" {
		return errors.New(FILTER_FIELD_EMPTY)
	}
	return nil
}
