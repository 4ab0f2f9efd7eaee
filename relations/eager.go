package relations

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/xompass/vsaas-relations/database"
	"github.com/xompass/vsaas-relations/lbq"
)

// Result is the loaded relation of one parent. One is set for to-one
// kinds, Many for to-many kinds (never nil).
type Result struct {
	Parent *Entity
	One    *Entity
	Many   []*Entity
}

func (r Result) Value(kind Kind) any {
	if kind.ToMany() {
		return r.Many
	}
	return r.One
}

// EagerLoader resolves a relation for many parents with one query per
// batch of distinct owner keys.
type EagerLoader struct {
	stores    StoreResolver
	logger    zerolog.Logger
	order     string
	batchSize int
}

func NewEagerLoader(stores StoreResolver, config Config) *EagerLoader {
	return &EagerLoader{
		stores:    stores,
		logger:    *config.Logger,
		order:     config.EagerOrder,
		batchSize: config.BatchSize,
	}
}

// LoadFor loads def for every parent. Results are aligned with parents and
// each parent also receives its value through SetRelation. Parents without a
// usable key get the empty value and are not queried.
//
// The distinct keys are fetched with one query per BatchSize keys, so more
// keys than BatchSize means more than one query. A scope limit or skip
// applies to each of those queries, not to the combined result.
func (l *EagerLoader) LoadFor(ctx context.Context, parents []*Entity, def *Definition, scope *database.FilterBuilder) ([]Result, error) {
	results := make([]Result, len(parents))
	for i, parent := range parents {
		results[i] = Result{Parent: parent}
		if def.Kind.ToMany() {
			results[i].Many = []*Entity{}
		}
	}
	if len(parents) == 0 {
		return results, nil
	}

	var related []*Entity
	var err error
	switch {
	case def.Unconstrained:
		related, err = l.find(ctx, def, lbq.Where{}, scope)
	case def.Kind.UsesPivot() && !def.Mirror:
		related, err = l.findByRelatedKeys(ctx, parents, def, scope)
	default:
		related, err = l.findByOwnerKeys(ctx, parents, def, scope)
	}
	if err != nil {
		return nil, err
	}

	l.assign(results, def, related)
	for _, result := range results {
		result.Parent.SetRelation(def.Name, result.Value(def.Kind))
	}

	l.logger.Debug().
		Str("relation", def.Name).
		Int("parents", len(parents)).
		Int("related", len(related)).
		Msg("relation eager loaded")
	return results, nil
}

func (l *EagerLoader) findByOwnerKeys(ctx context.Context, parents []*Entity, def *Definition, scope *database.FilterBuilder) ([]*Entity, error) {
	raw := make([]any, 0, len(parents))
	for _, parent := range parents {
		raw = append(raw, ownerKeyOf(def, parent))
	}
	keys := DistinctKeys(raw, def.OwnerKeyType())

	var related []*Entity
	for _, chunk := range chunks(keys, l.batchSize) {
		where, err := BuildBatchPredicate(def, chunk)
		if err != nil {
			return nil, err
		}
		found, err := l.find(ctx, def, where, scope)
		if err != nil {
			return nil, err
		}
		related = append(related, found...)
	}
	return related, nil
}

func (l *EagerLoader) findByRelatedKeys(ctx context.Context, parents []*Entity, def *Definition, scope *database.FilterBuilder) ([]*Entity, error) {
	var union []any
	seen := map[any]bool{}
	for _, parent := range parents {
		keys, err := pivotKeys(def, parent)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			if !seen[key] {
				seen[key] = true
				union = append(union, key)
			}
		}
	}

	var related []*Entity
	for _, chunk := range chunks(union, l.batchSize) {
		where := lbq.Where{def.RelatedKey: lbq.Where{"inq": chunk}}
		found, err := l.find(ctx, def, where, scope)
		if err != nil {
			return nil, err
		}
		related = append(related, found...)
	}
	return related, nil
}

func (l *EagerLoader) find(ctx context.Context, def *Definition, where lbq.Where, scope *database.FilterBuilder) ([]*Entity, error) {
	if def.Unconstrained {
		var err error
		if where, err = buildPredicate(def, "eq", nil, false); err != nil {
			return nil, err
		}
	}

	builder := database.NewFilter()
	if len(where) > 0 {
		builder.Where(where)
	}
	if l.order != "" {
		builder.OrderByAsc(l.order)
	}
	filter, err := builder.MergeWith(scope).Build()
	if err != nil {
		return nil, err
	}

	store, err := l.stores.StoreFor(def.Related.Name)
	if err != nil {
		return nil, err
	}
	documents, err := store.Find(ctx, def.Related.Collection, filter)
	if err != nil {
		return nil, err
	}

	entities := make([]*Entity, 0, len(documents))
	for _, document := range documents {
		entities = append(entities, Hydrate(def.Related, document))
	}
	return entities, nil
}

// assign distributes related entities over the results, keeping the store
// order inside each group.
func (l *EagerLoader) assign(results []Result, def *Definition, related []*Entity) {
	if def.Unconstrained {
		for i := range results {
			place(&results[i], def, related)
		}
		return
	}

	if def.Kind.UsesPivot() && !def.Mirror {
		byKey := map[any][]*Entity{}
		for _, entity := range related {
			if key := database.NormalizeKey(entity.Get(def.RelatedKey), def.RelatedKeyType()); key != nil {
				byKey[key] = append(byKey[key], entity)
			}
		}
		for i := range results {
			keys, _ := pivotKeys(def, results[i].Parent)
			var group []*Entity
			for _, key := range keys {
				group = append(group, byKey[key]...)
			}
			place(&results[i], def, group)
		}
		return
	}

	groups := map[any][]*Entity{}
	for _, entity := range related {
		for _, key := range groupKeys(def, entity) {
			groups[key] = append(groups[key], entity)
		}
	}
	for i := range results {
		key := database.NormalizeKey(ownerKeyOf(def, results[i].Parent), def.OwnerKeyType())
		if key == nil {
			continue
		}
		place(&results[i], def, groups[key])
	}
}

// groupKeys returns the owner keys a related entity belongs to.
func groupKeys(def *Definition, entity *Entity) []any {
	keyType := def.OwnerKeyType()
	switch def.Kind {
	case HasOne, HasMany, MorphOne, MorphMany:
		if key := database.NormalizeKey(entity.Get(def.ForeignKey), keyType); key != nil {
			return []any{key}
		}
	case BelongsTo:
		if key := database.NormalizeKey(entity.Get(def.OwnerKey), keyType); key != nil {
			return []any{key}
		}
	case BelongsToMany, MorphToMany, MorphedByMany:
		elements, _ := database.ToSlice(entity.Get(def.MirrorArray))
		keys := make([]any, 0, len(elements))
		seen := map[any]bool{}
		for _, element := range elements {
			key := database.NormalizeKey(element, keyType)
			if key == nil || seen[key] {
				continue
			}
			seen[key] = true
			keys = append(keys, key)
		}
		return keys
	}
	return nil
}

func place(result *Result, def *Definition, group []*Entity) {
	if def.Kind.ToMany() {
		result.Many = append([]*Entity{}, group...)
		return
	}
	if len(group) > 0 {
		result.One = group[0]
	}
}

func chunks(keys []any, size int) [][]any {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var result [][]any
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		result = append(result, keys[start:end])
	}
	return result
}
