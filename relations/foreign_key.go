package relations

import (
	"context"

	"github.com/go-errors/errors"
	"github.com/rs/zerolog"
	"github.com/xompass/vsaas-relations/database"
	"github.com/xompass/vsaas-relations/lbq"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ForeignKeyWriter maintains scalar foreign keys: has and morph kinds write
// on the related document, BelongsTo writes on the child itself.
type ForeignKeyWriter struct {
	stores StoreResolver
	logger zerolog.Logger
}

func NewForeignKeyWriter(stores StoreResolver, logger zerolog.Logger) *ForeignKeyWriter {
	return &ForeignKeyWriter{stores: stores, logger: logger}
}

// Save points related at owner and persists it. Saving an already
// associated entity writes nothing.
func (w *ForeignKeyWriter) Save(ctx context.Context, def *Definition, owner, related *Entity) error {
	switch def.Kind {
	case HasOne, HasMany, MorphOne, MorphMany:
	default:
		return errors.Errorf("%w: save on %s relation %s", ErrUnsupportedOperation, def.Kind, def.Name)
	}
	if related == nil {
		return errors.Errorf("%w: nothing to save on %s", ErrMissingKey, def.Name)
	}

	ownerKey := owner.Get(def.OwnerKey)
	if ownerKey == nil {
		return errors.Errorf("%w: owner of %s has no %s", ErrMissingKey, def.Name, def.OwnerKey)
	}
	key, err := database.ToStoreID(ownerKey, def.OwnerKeyType())
	if err != nil {
		return err
	}

	if err := assign(related, def.ForeignKey, key, def.OwnerKeyType()); err != nil {
		return err
	}
	if def.Kind.IsMorph() {
		if err := assign(related, def.MorphType, def.MorphClass, database.KeyOpaque); err != nil {
			return err
		}
	}
	return w.persist(ctx, related)
}

// Create builds a related entity from attributes and saves it.
func (w *ForeignKeyWriter) Create(ctx context.Context, def *Definition, owner *Entity, attributes bson.M) (*Entity, error) {
	related, err := NewEntity(def.Related, attributes)
	if err != nil {
		return nil, err
	}
	if err := w.Save(ctx, def, owner, related); err != nil {
		return nil, err
	}
	return related, nil
}

// Associate points child at parent. The child is persisted when it already
// exists in the store, otherwise the change stays dirty for its first save.
func (w *ForeignKeyWriter) Associate(ctx context.Context, def *Definition, child, parent *Entity) error {
	if def.Kind != BelongsTo {
		return errors.Errorf("%w: associate on %s relation %s", ErrUnsupportedOperation, def.Kind, def.Name)
	}
	if child == nil {
		return errors.Errorf("%w: %s has no child to associate", ErrMissingKey, def.Name)
	}
	if parent == nil {
		return w.Dissociate(ctx, def, child)
	}

	ownerKey := parent.Get(def.OwnerKey)
	if ownerKey == nil {
		return errors.Errorf("%w: parent of %s has no %s", ErrMissingKey, def.Name, def.OwnerKey)
	}
	key, err := database.ToStoreID(ownerKey, def.OwnerKeyType())
	if err != nil {
		return err
	}
	if err := assign(child, def.ForeignKey, key, def.OwnerKeyType()); err != nil {
		return err
	}

	child.SetRelation(def.Name, parent)
	if !child.Exists() {
		return nil
	}
	return w.persist(ctx, child)
}

// Dissociate clears the child's foreign key.
func (w *ForeignKeyWriter) Dissociate(ctx context.Context, def *Definition, child *Entity) error {
	if def.Kind != BelongsTo {
		return errors.Errorf("%w: dissociate on %s relation %s", ErrUnsupportedOperation, def.Kind, def.Name)
	}
	if child == nil {
		return errors.Errorf("%w: %s has no child to dissociate", ErrMissingKey, def.Name)
	}
	if child.Get(def.ForeignKey) != nil {
		if err := child.Set(def.ForeignKey, nil); err != nil {
			return err
		}
	}

	child.SetRelation(def.Name, (*Entity)(nil))
	if !child.Exists() {
		return nil
	}
	return w.persist(ctx, child)
}

// WhereBelongsTo selects the children of parent through a BelongsTo relation.
func WhereBelongsTo(def *Definition, parent *Entity) (lbq.Where, error) {
	if def.Kind != BelongsTo {
		return nil, errors.Errorf("%w: where belongs to on %s relation %s", ErrUnsupportedOperation, def.Kind, def.Name)
	}
	if parent == nil {
		return nil, errors.Errorf("%w: no parent for %s", ErrMissingKey, def.Name)
	}
	ownerKey := parent.Get(def.OwnerKey)
	if ownerKey == nil {
		return nil, errors.Errorf("%w: parent of %s has no %s", ErrMissingKey, def.Name, def.OwnerKey)
	}
	key, err := database.ToStoreID(ownerKey, def.OwnerKeyType())
	if err != nil {
		return nil, err
	}
	return lbq.Where{def.ForeignKey: lbq.Where{"eq": key}}, nil
}

// assign sets attr only when the stored value differs, keeping repeated
// saves free of writes.
func assign(entity *Entity, attr string, value any, keyType database.KeyType) error {
	current := entity.Get(attr)
	if current != nil && database.KeysEqual(current, value, keyType) {
		return nil
	}
	return entity.Set(attr, value)
}

func (w *ForeignKeyWriter) persist(ctx context.Context, entity *Entity) error {
	return persistEntity(ctx, w.stores, w.logger, entity)
}

// persistEntity inserts an entity without an id or patches its dirty
// attributes. A clean existing entity is not written.
func persistEntity(ctx context.Context, stores StoreResolver, logger zerolog.Logger, entity *Entity) error {
	model := entity.Model()
	if !entity.Exists() && model.KeyGenerator == nil && model.Key() != database.DefaultPrimaryKey {
		return errors.Errorf("%w: %s requires a %s value", ErrMissingKey, model.Name, model.Key())
	}
	store, err := stores.StoreFor(model.Name)
	if err != nil {
		return err
	}

	if !entity.Exists() {
		if model.KeyGenerator != nil {
			key, err := model.KeyGenerator.NextKey(ctx, model.Collection)
			if err != nil {
				return err
			}
			if err := entity.Set(model.Key(), key); err != nil {
				return err
			}
		}

		id, err := store.Insert(ctx, model.Collection, entity.Attributes())
		if err != nil {
			return err
		}
		if !entity.Exists() {
			entity.setClean(model.Key(), id)
		}
		entity.markClean()
		logger.Debug().Str("collection", model.Collection).Interface("id", entity.ID()).Msg("entity inserted")
		return nil
	}

	dirty := entity.DirtyAttributes()
	delete(dirty, model.Key())
	if len(dirty) == 0 {
		entity.markClean()
		return nil
	}

	id, err := database.ToStoreID(entity.ID(), model.KeyType)
	if err != nil {
		return err
	}

	attributes := entity.Dirty()
	delta := database.Delta{Set: map[string]any{}}
	for attr, value := range dirty {
		if value == nil {
			delta.Unset = append(delta.Unset, attr)
			continue
		}
		delta.Set[attr] = value
	}
	if _, err := store.Patch(ctx, model.Collection, lbq.Where{model.Key(): lbq.Where{"eq": id}}, delta); err != nil {
		return err
	}
	entity.markClean()
	logger.Debug().Str("collection", model.Collection).Interface("id", id).Strs("attributes", attributes).Msg("entity patched")
	return nil
}
