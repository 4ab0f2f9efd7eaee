package relations

import (
	"reflect"

	"github.com/go-errors/errors"
	"github.com/xompass/vsaas-relations/database"
	"github.com/xompass/vsaas-relations/lbq"
)

// BuildSingleParentPredicate selects the related documents of one owner key.
// For BelongsTo the key is the child's foreign key value. Pivot kinds test
// membership of the key in the related document's mirror array.
func BuildSingleParentPredicate(def *Definition, ownerKey any) (lbq.Where, error) {
	if ownerKey == nil {
		return nil, errors.Errorf("%w: %s has no owner key", ErrMissingKey, def.Name)
	}
	key, err := database.ToStoreID(ownerKey, def.OwnerKeyType())
	if err != nil {
		return nil, err
	}
	return buildPredicate(def, "eq", key, true)
}

// BuildBatchPredicate selects the related documents of any of ownerKeys.
// Callers pass distinct keys, see DistinctKeys.
func BuildBatchPredicate(def *Definition, ownerKeys []any) (lbq.Where, error) {
	keys := make([]any, 0, len(ownerKeys))
	for _, ownerKey := range ownerKeys {
		key, err := database.ToStoreID(ownerKey, def.OwnerKeyType())
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return buildPredicate(def, "inq", keys, true)
}

// DistinctKeys normalizes keys under keyType, dropping nil and malformed
// values and collapsing duplicates. First occurrence order is kept.
func DistinctKeys(keys []any, keyType database.KeyType) []any {
	seen := map[any]bool{}
	result := make([]any, 0, len(keys))
	for _, key := range keys {
		normalized := database.NormalizeKey(key, keyType)
		if normalized == nil || seen[normalized] {
			continue
		}
		seen[normalized] = true
		result = append(result, normalized)
	}
	return result
}

func buildPredicate(def *Definition, op string, value any, constrained bool) (lbq.Where, error) {
	if def.Unconstrained {
		constrained = false
	}

	where := lbq.Where{}
	switch def.Kind {
	case HasOne, HasMany:
		if constrained {
			where[def.ForeignKey] = lbq.Where{op: value, "neq": nil}
		}
	case MorphOne, MorphMany:
		if constrained {
			where[def.ForeignKey] = lbq.Where{op: value, "neq": nil}
		}
		where[def.MorphType] = lbq.Where{"eq": def.MorphClass}
	case BelongsTo:
		if constrained {
			where[def.OwnerKey] = lbq.Where{op: value, "neq": nil}
		}
	case BelongsToMany, MorphToMany, MorphedByMany:
		if !constrained {
			break
		}
		if !def.Mirror {
			return nil, errors.Errorf("%w: %s has no mirror array to query", ErrUnsupportedOperation, def.Name)
		}
		where[def.MirrorArray] = lbq.Where{op: value}
	}
	return where, nil
}

// ownerKeyOf returns the value of owner identifying it on the related side.
func ownerKeyOf(def *Definition, owner *Entity) any {
	return owner.Get(def.ownerAttr())
}

// OwnerPredicate builds the related-side filter for one loaded owner. Unlike
// BuildSingleParentPredicate it also serves pivot relations without a mirror
// by testing the related key against the owner's array. With constrained
// false only the discriminator scope is produced.
func OwnerPredicate(def *Definition, owner *Entity, constrained bool) (lbq.Where, error) {
	if !constrained || def.Unconstrained {
		return buildPredicate(def, "eq", nil, false)
	}

	if def.Kind.UsesPivot() && !def.Mirror {
		keys, err := pivotKeys(def, owner)
		if err != nil {
			return nil, err
		}
		return lbq.Where{def.RelatedKey: lbq.Where{"inq": keys}}, nil
	}

	return BuildSingleParentPredicate(def, ownerKeyOf(def, owner))
}

// pivotKeys reads the owner's array as normalized related keys.
func pivotKeys(def *Definition, owner *Entity) ([]any, error) {
	raw := owner.Get(def.OwnerArray)
	if raw == nil {
		return []any{}, nil
	}
	elements, ok := database.ToSlice(raw)
	if !ok {
		return nil, errors.Errorf("%w: %s is not an array", ErrInvalidDefinition, def.OwnerArray)
	}

	keyType := def.RelatedKeyType()
	keys := make([]any, 0, len(elements))
	seen := map[any]bool{}
	for _, element := range elements {
		key := database.NormalizeKey(element, keyType)
		if key == nil {
			key = element
		}
		if key == nil || !isComparable(key) || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys, nil
}

func isComparable(value any) bool {
	return value != nil && reflect.TypeOf(value).Comparable()
}
