package relations

import (
	"context"

	"github.com/go-errors/errors"
	"github.com/xompass/vsaas-relations/database"
	"github.com/xompass/vsaas-relations/lbq"
)

// Scope narrows the related documents counted by a has filter.
type Scope func(*database.WhereBuilder)

// ScopeFromJSON builds a scope from a loopback where document.
func ScopeFromJSON(where string) (Scope, error) {
	parsed, err := lbq.ParseWhere(where)
	if err != nil {
		return nil, err
	}
	return func(builder *database.WhereBuilder) {
		if len(parsed) > 0 {
			builder.Raw(parsed)
		}
	}, nil
}

var comparators = map[string]string{
	"=":  "eq",
	"!=": "neq",
	"<>": "neq",
	"<":  "lt",
	"<=": "lte",
	">":  "gt",
	">=": "gte",
}

// ComparatorOperator maps a comparison symbol to its filter operator.
func ComparatorOperator(comparator string) (string, error) {
	op, ok := comparators[comparator]
	if !ok {
		return "", errors.Errorf("%w: %q", ErrInvalidComparator, comparator)
	}
	return op, nil
}

// HasTranslator turns relation existence and cardinality conditions into
// filters over the parent collection.
type HasTranslator struct {
	stores StoreResolver
}

func NewHasTranslator(stores StoreResolver) *HasTranslator {
	return &HasTranslator{stores: stores}
}

// BuildHasFilter selects the parents whose number of related documents,
// optionally narrowed by scope, compares to threshold.
func (t *HasTranslator) BuildHasFilter(ctx context.Context, def *Definition, comparator string, threshold int64, scope Scope) (lbq.Where, error) {
	op, err := ComparatorOperator(comparator)
	if err != nil {
		return nil, err
	}
	if def.Unconstrained {
		return nil, errors.Errorf("%w: has on unconstrained relation %s", ErrUnsupportedOperation, def.Name)
	}

	if def.Kind.UsesPivot() && scope == nil {
		return lbq.Where{def.OwnerArray: lbq.Where{"size": lbq.Where{op: threshold}}}, nil
	}
	if def.Kind.UsesPivot() && !def.Mirror {
		return nil, errors.Errorf("%w: scoped has on %s needs a mirror array", ErrUnsupportedOperation, def.Name)
	}

	where, err := buildPredicate(def, "neq", nil, true)
	if err != nil {
		return nil, err
	}
	if scope != nil {
		builder := database.NewWhere()
		scope(builder)
		scoped, err := builder.Build()
		if err != nil {
			return nil, err
		}
		if len(scoped) > 0 {
			where = lbq.Where{"and": lbq.AndOrCondition{where, scoped}}
		}
	}

	groupAttr, parentAttr := def.ForeignKey, def.OwnerKey
	switch def.Kind {
	case BelongsTo:
		groupAttr, parentAttr = def.OwnerKey, def.ForeignKey
	case BelongsToMany, MorphToMany, MorphedByMany:
		groupAttr, parentAttr = def.MirrorArray, def.ParentKey
	}

	store, err := t.stores.StoreFor(def.Related.Name)
	if err != nil {
		return nil, err
	}
	raw, err := store.CountBy(ctx, def.Related.Collection, where, groupAttr, def.Kind.UsesPivot())
	if err != nil {
		return nil, err
	}

	counts := map[any]int64{}
	var order []any
	for value, count := range raw {
		key := database.NormalizeKey(value, def.OwnerKeyType())
		if key == nil {
			continue
		}
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key] += count
	}

	satisfying, failing := []any{}, []any{}
	for _, key := range order {
		if compareCount(counts[key], op, threshold) {
			satisfying = append(satisfying, key)
		} else {
			failing = append(failing, key)
		}
	}

	if compareCount(0, op, threshold) {
		return lbq.Where{parentAttr: lbq.Where{"nin": failing}}, nil
	}
	return lbq.Where{parentAttr: lbq.Where{"inq": satisfying}}, nil
}

func compareCount(count int64, op string, threshold int64) bool {
	switch op {
	case "eq":
		return count == threshold
	case "neq":
		return count != threshold
	case "lt":
		return count < threshold
	case "lte":
		return count <= threshold
	case "gt":
		return count > threshold
	case "gte":
		return count >= threshold
	}
	return false
}
