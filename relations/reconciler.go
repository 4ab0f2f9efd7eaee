package relations

import (
	"context"

	"github.com/go-errors/errors"
	"github.com/rs/zerolog"
	"github.com/xompass/vsaas-relations/database"
	"github.com/xompass/vsaas-relations/lbq"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// StoreResolver returns the document store serving a model.
type StoreResolver interface {
	StoreFor(modelName string) (database.DocumentStore, error)
}

// Changes is the delta applied by a reconciliation.
type Changes struct {
	Attached []any
	Detached []any
}

func (c Changes) Empty() bool {
	return len(c.Attached) == 0 && len(c.Detached) == 0
}

// Reconciler applies attach, detach and sync to pivot relations. It issues
// one write on the owner document and one per affected related document,
// and no write at all when the target set is already in place.
type Reconciler struct {
	stores StoreResolver
	logger zerolog.Logger
}

func NewReconciler(stores StoreResolver, logger zerolog.Logger) *Reconciler {
	return &Reconciler{stores: stores, logger: logger}
}

// Attach adds targets to the owner's array and the owner to each added
// target's mirror array. Targets may be keys, entities or slices of either.
func (r *Reconciler) Attach(ctx context.Context, def *Definition, owner *Entity, targets any) (Changes, error) {
	plan, err := r.prepare(def, owner, targets)
	if err != nil {
		return Changes{}, err
	}
	attach := plan.missing()
	return r.apply(ctx, plan, pivotOps{attach: attach}, pivotOps{attach: attach})
}

// Detach removes targets from the owner's array. A nil or empty target
// detaches everything currently attached, including related documents whose
// mirror still holds the owner while the in-memory array does not.
func (r *Reconciler) Detach(ctx context.Context, def *Definition, owner *Entity, targets any) (Changes, error) {
	plan, err := r.prepare(def, owner, targets)
	if err != nil {
		return Changes{}, err
	}
	if len(plan.targets) == 0 {
		detach := plan.existing
		if def.Mirror {
			state, err := r.relatedState(ctx, plan, plan.existing)
			if err != nil {
				return Changes{}, err
			}
			detach = union(plan.existing, state.mirrored)
		}
		return r.apply(ctx, plan, pivotOps{detach: detach, clear: true}, pivotOps{detach: detach})
	}
	detach := plan.present()
	return r.apply(ctx, plan, pivotOps{detach: detach}, pivotOps{detach: detach})
}

// Sync makes the owner's array equal to targets. With detachMissing false
// nothing is detached and the call behaves like Attach. Mirror arrays are
// compared against the related documents themselves, so a sync repeated
// after a failed mirror write repairs the related side.
func (r *Reconciler) Sync(ctx context.Context, def *Definition, owner *Entity, targets any, detachMissing bool) (Changes, error) {
	plan, err := r.prepare(def, owner, targets)
	if err != nil {
		return Changes{}, err
	}

	ownerOps := pivotOps{attach: plan.missing()}
	if detachMissing {
		ownerOps.detach = plan.stale()
	}
	if !def.Mirror {
		return r.apply(ctx, plan, ownerOps, pivotOps{})
	}

	state, err := r.relatedState(ctx, plan, union(plan.targets, plan.existing))
	if err != nil {
		return Changes{}, err
	}
	// Targets without a related document have no mirror to write.
	mirrorOps := pivotOps{attach: difference(intersection(plan.targets, state.found), state.mirrored)}
	if detachMissing {
		mirrorOps.detach = difference(state.mirrored, plan.targets)
	}
	return r.apply(ctx, plan, ownerOps, mirrorOps)
}

// relatedSide describes the related documents of a pivot as stored.
type relatedSide struct {
	// found holds the candidate keys that have a related document.
	found []any
	// mirrored holds the keys of the documents whose mirror holds the owner.
	mirrored []any
}

// relatedState reads, in one query, the related documents keyed by
// candidates or holding the owner in their mirror array.
func (r *Reconciler) relatedState(ctx context.Context, plan *pivotPlan, candidates []any) (relatedSide, error) {
	def := plan.def
	store, err := r.stores.StoreFor(def.Related.Name)
	if err != nil {
		return relatedSide{}, err
	}

	filter := &lbq.Filter{
		Where: lbq.Where{"or": lbq.AndOrCondition{
			{def.RelatedKey: lbq.Where{"inq": append([]any{}, candidates...)}},
			{def.MirrorArray: lbq.Where{"eq": plan.parentKey}},
		}},
		Fields: lbq.Fields{def.RelatedKey: true, def.MirrorArray: true},
	}
	documents, err := store.Find(ctx, def.Related.Collection, filter)
	if err != nil {
		return relatedSide{}, err
	}

	candidate := map[any]bool{}
	for _, key := range candidates {
		candidate[key] = true
	}

	var side relatedSide
	seen := map[any]bool{}
	for _, document := range documents {
		value, _ := database.LookupPath(document, def.RelatedKey)
		key := database.NormalizeKey(value, def.RelatedKeyType())
		if key == nil || seen[key] {
			continue
		}
		seen[key] = true
		if candidate[key] {
			side.found = append(side.found, key)
		}

		mirror, _ := database.LookupPath(document, def.MirrorArray)
		elements, _ := database.ToSlice(mirror)
		for _, element := range elements {
			if database.KeysEqual(element, plan.parentKey, def.OwnerKeyType()) {
				side.mirrored = append(side.mirrored, key)
				break
			}
		}
	}
	return side, nil
}

// pivotOps lists the keys to add and remove on one side of a pivot.
type pivotOps struct {
	attach []any
	detach []any
	// clear empties the owner array instead of pulling detach.
	clear bool
}

func (o pivotOps) empty() bool {
	return len(o.attach) == 0 && len(o.detach) == 0
}

type pivotPlan struct {
	def       *Definition
	owner     *Entity
	ownerID   any
	parentKey any
	existing  []any
	targets   []any
	entities  map[any][]*Entity
}

func (p *pivotPlan) missing() []any {
	return difference(p.targets, p.existing)
}

func (p *pivotPlan) present() []any {
	return intersection(p.existing, p.targets)
}

func (p *pivotPlan) stale() []any {
	return difference(p.existing, p.targets)
}

func (r *Reconciler) prepare(def *Definition, owner *Entity, targets any) (*pivotPlan, error) {
	if !def.Kind.UsesPivot() {
		return nil, errors.Errorf("%w: %s is a %s relation", ErrUnsupportedOperation, def.Name, def.Kind)
	}
	if owner == nil || owner.ID() == nil {
		return nil, errors.Errorf("%w: owner of %s is not persisted", ErrMissingKey, def.Name)
	}

	ownerID, err := database.ToStoreID(owner.ID(), def.Parent.KeyType)
	if err != nil {
		return nil, err
	}

	plan := &pivotPlan{def: def, owner: owner, ownerID: ownerID, entities: map[any][]*Entity{}}

	if def.Mirror {
		parentKey := owner.Get(def.ParentKey)
		if parentKey == nil {
			return nil, errors.Errorf("%w: owner of %s has no %s", ErrMissingKey, def.Name, def.ParentKey)
		}
		if plan.parentKey, err = database.ToStoreID(parentKey, def.OwnerKeyType()); err != nil {
			return nil, err
		}
	}

	if plan.existing, err = pivotKeys(def, owner); err != nil {
		return nil, err
	}
	if plan.targets, err = r.normalizeTargets(def, targets, plan.entities); err != nil {
		return nil, err
	}
	return plan, nil
}

// normalizeTargets flattens targets into distinct related keys, collecting
// the entities that contributed each key.
func (r *Reconciler) normalizeTargets(def *Definition, targets any, entities map[any][]*Entity) ([]any, error) {
	var keys []any
	seen := map[any]bool{}
	keyType := def.RelatedKeyType()

	add := func(value any, entity *Entity) error {
		if value == nil {
			return errors.Errorf("%w: target of %s has no %s", ErrMissingKey, def.Name, def.RelatedKey)
		}
		key, err := database.ToStoreID(value, keyType)
		if err != nil {
			return err
		}
		if entity != nil {
			entities[key] = append(entities[key], entity)
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
		return nil
	}

	var visit func(target any) error
	visit = func(target any) error {
		switch t := target.(type) {
		case nil:
			return nil
		case *Entity:
			if t == nil {
				return nil
			}
			return add(t.Get(def.RelatedKey), t)
		case []*Entity:
			for _, entity := range t {
				if err := visit(entity); err != nil {
					return err
				}
			}
			return nil
		case bson.ObjectID, string:
			return add(t, nil)
		}

		if elements, ok := database.ToSlice(target); ok {
			for _, element := range elements {
				if err := visit(element); err != nil {
					return err
				}
			}
			return nil
		}
		return add(target, nil)
	}

	if err := visit(targets); err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *Reconciler) apply(ctx context.Context, plan *pivotPlan, ownerOps, mirrorOps pivotOps) (Changes, error) {
	if ownerOps.empty() && mirrorOps.empty() {
		return Changes{}, nil
	}
	def := plan.def

	if !ownerOps.empty() {
		if err := r.patchOwner(ctx, plan, ownerOps); err != nil {
			return Changes{}, err
		}
	}
	if def.Mirror && !mirrorOps.empty() {
		if err := r.patchMirrors(ctx, plan, mirrorOps.attach, mirrorOps.detach); err != nil {
			return Changes{Attached: ownerOps.attach, Detached: ownerOps.detach}, err
		}
	}

	changes := Changes{
		Attached: union(ownerOps.attach, mirrorOps.attach),
		Detached: union(ownerOps.detach, mirrorOps.detach),
	}
	r.logger.Debug().
		Str("relation", def.Name).
		Interface("owner", plan.ownerID).
		Int("attached", len(changes.Attached)).
		Int("detached", len(changes.Detached)).
		Msg("pivot reconciled")
	return changes, nil
}

func (r *Reconciler) patchOwner(ctx context.Context, plan *pivotPlan, ops pivotOps) error {
	def := plan.def
	store, err := r.stores.StoreFor(def.Parent.Name)
	if err != nil {
		return err
	}

	final := append(bson.A{}, difference(plan.existing, ops.detach)...)
	final = append(final, ops.attach...)

	delta := database.Delta{}
	switch {
	case ops.clear:
		delta.Set = map[string]any{def.OwnerArray: bson.A{}}
	case len(ops.attach) > 0 && len(ops.detach) > 0:
		delta.Set = map[string]any{def.OwnerArray: final}
	case len(ops.attach) > 0:
		delta.AddToSet = map[string][]any{def.OwnerArray: ops.attach}
	default:
		delta.Pull = map[string][]any{def.OwnerArray: ops.detach}
	}

	where := lbq.Where{def.Parent.Key(): lbq.Where{"eq": plan.ownerID}}
	if _, err := store.Patch(ctx, def.Parent.Collection, where, delta); err != nil {
		return err
	}
	plan.owner.setClean(def.OwnerArray, final)
	return nil
}

func (r *Reconciler) patchMirrors(ctx context.Context, plan *pivotPlan, attach, detach []any) error {
	def := plan.def
	relatedStore, err := r.stores.StoreFor(def.Related.Name)
	if err != nil {
		return r.mirrorFailed(plan, err)
	}

	for _, key := range attach {
		delta := database.Delta{AddToSet: map[string][]any{def.MirrorArray: {plan.parentKey}}}
		if _, err := relatedStore.Patch(ctx, def.Related.Collection, lbq.Where{def.RelatedKey: lbq.Where{"eq": key}}, delta); err != nil {
			return r.mirrorFailed(plan, err)
		}
		for _, entity := range plan.entities[key] {
			updateMirror(entity, def.MirrorArray, plan.parentKey, def.OwnerKeyType(), true)
		}
	}

	for _, key := range detach {
		delta := database.Delta{Pull: map[string][]any{def.MirrorArray: {plan.parentKey}}}
		if _, err := relatedStore.Patch(ctx, def.Related.Collection, lbq.Where{def.RelatedKey: lbq.Where{"eq": key}}, delta); err != nil {
			return r.mirrorFailed(plan, err)
		}
		for _, entity := range plan.entities[key] {
			updateMirror(entity, def.MirrorArray, plan.parentKey, def.OwnerKeyType(), false)
		}
	}
	return nil
}

func (r *Reconciler) mirrorFailed(plan *pivotPlan, err error) error {
	r.logger.Warn().
		Err(err).
		Str("relation", plan.def.Name).
		Interface("owner", plan.ownerID).
		Msg("owner array written but mirror write failed, sync again to converge")
	return err
}

// updateMirror reflects a mirror write on an in-memory target entity.
func updateMirror(entity *Entity, attr string, parentKey any, keyType database.KeyType, add bool) {
	current, _ := database.ToSlice(entity.Get(attr))
	updated := bson.A{}
	found := false
	for _, element := range current {
		if database.KeysEqual(element, parentKey, keyType) {
			found = true
			if !add {
				continue
			}
		}
		updated = append(updated, element)
	}
	if add && !found {
		updated = append(updated, parentKey)
	}
	entity.setClean(attr, updated)
}

func difference(from, remove []any) []any {
	drop := map[any]bool{}
	for _, key := range remove {
		drop[key] = true
	}
	var result []any
	for _, key := range from {
		if !drop[key] {
			result = append(result, key)
		}
	}
	return result
}

// union concatenates a and the members of b missing from a.
func union(a, b []any) []any {
	return append(append([]any(nil), a...), difference(b, a)...)
}

func intersection(from, keep []any) []any {
	wanted := map[any]bool{}
	for _, key := range keep {
		wanted[key] = true
	}
	var result []any
	for _, key := range from {
		if wanted[key] {
			result = append(result, key)
		}
	}
	return result
}
