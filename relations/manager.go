package relations

import (
	"context"

	"github.com/go-errors/errors"
	"github.com/rs/zerolog"
	"github.com/xompass/vsaas-relations/database"
	"github.com/xompass/vsaas-relations/lbq"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Manager resolves and mutates relations by name for entities of the
// registered models.
type Manager struct {
	registry   *Registry
	stores     StoreResolver
	logger     zerolog.Logger
	reconciler *Reconciler
	writer     *ForeignKeyWriter
	loader     *EagerLoader
	has        *HasTranslator
}

func NewManager(registry *Registry, stores StoreResolver, config Config) (*Manager, error) {
	if registry == nil {
		return nil, errors.New("registry is nil")
	}
	if stores == nil {
		return nil, errors.New("store resolver is nil")
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	logger := config.Logger.With().Str("component", "relations").Logger()
	config.Logger = &logger

	return &Manager{
		registry:   registry,
		stores:     stores,
		logger:     logger,
		reconciler: NewReconciler(stores, logger),
		writer:     NewForeignKeyWriter(stores, logger),
		loader:     NewEagerLoader(stores, config),
		has:        NewHasTranslator(stores),
	}, nil
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) relationOf(entity *Entity, name string) (*Definition, error) {
	if entity == nil {
		return nil, errors.Errorf("%w: no entity for relation %s", ErrMissingKey, name)
	}
	return m.registry.Relation(entity.Model().Name, name)
}

// Query returns a filter over the related collection selecting the related
// documents of owner.
func (m *Manager) Query(owner *Entity, name string) (*database.FilterBuilder, *Definition, error) {
	def, err := m.relationOf(owner, name)
	if err != nil {
		return nil, nil, err
	}
	where, err := OwnerPredicate(def, owner, true)
	if err != nil {
		return nil, nil, err
	}

	builder := database.NewFilter()
	if len(where) > 0 {
		builder.Where(where)
	}
	return builder, def, nil
}

// ResolveForOne returns the related entity of a to-one relation, nil when
// there is none.
func (m *Manager) ResolveForOne(ctx context.Context, owner *Entity, name string) (*Entity, error) {
	results, def, err := m.resolve(ctx, owner, name, nil)
	if err != nil {
		return nil, err
	}
	if def.Kind.ToMany() {
		return nil, errors.Errorf("%w: %s is a to-many relation", ErrUnsupportedOperation, name)
	}
	return results[0].One, nil
}

// ResolveForMany returns the related entities of a to-many relation,
// narrowed by an optional scope filter.
func (m *Manager) ResolveForMany(ctx context.Context, owner *Entity, name string, scope *database.FilterBuilder) ([]*Entity, error) {
	results, def, err := m.resolve(ctx, owner, name, scope)
	if err != nil {
		return nil, err
	}
	if !def.Kind.ToMany() {
		return nil, errors.Errorf("%w: %s is a to-one relation", ErrUnsupportedOperation, name)
	}
	return results[0].Many, nil
}

func (m *Manager) resolve(ctx context.Context, owner *Entity, name string, scope *database.FilterBuilder) ([]Result, *Definition, error) {
	def, err := m.relationOf(owner, name)
	if err != nil {
		return nil, nil, err
	}
	results, err := m.loader.LoadFor(ctx, []*Entity{owner}, def, scope)
	if err != nil {
		return nil, nil, err
	}
	return results, def, nil
}

// Count returns the number of related documents of owner matching scope.
func (m *Manager) Count(ctx context.Context, owner *Entity, name string, scope Scope) (int64, error) {
	def, err := m.relationOf(owner, name)
	if err != nil {
		return 0, err
	}
	where, err := OwnerPredicate(def, owner, true)
	if err != nil {
		return 0, err
	}
	if scope != nil {
		builder := database.NewWhere()
		if len(where) > 0 {
			builder.Raw(where)
		}
		scope(builder)
		if where, err = builder.Build(); err != nil {
			return 0, err
		}
	}

	store, err := m.stores.StoreFor(def.Related.Name)
	if err != nil {
		return 0, err
	}
	return store.Count(ctx, def.Related.Collection, where)
}

func (m *Manager) Attach(ctx context.Context, owner *Entity, name string, targets any) (Changes, error) {
	def, err := m.relationOf(owner, name)
	if err != nil {
		return Changes{}, err
	}
	return m.reconciler.Attach(ctx, def, owner, targets)
}

func (m *Manager) Detach(ctx context.Context, owner *Entity, name string, targets any) (Changes, error) {
	def, err := m.relationOf(owner, name)
	if err != nil {
		return Changes{}, err
	}
	return m.reconciler.Detach(ctx, def, owner, targets)
}

func (m *Manager) Sync(ctx context.Context, owner *Entity, name string, targets any, detachMissing bool) (Changes, error) {
	def, err := m.relationOf(owner, name)
	if err != nil {
		return Changes{}, err
	}
	return m.reconciler.Sync(ctx, def, owner, targets, detachMissing)
}

func (m *Manager) Save(ctx context.Context, owner *Entity, name string, related *Entity) error {
	def, err := m.relationOf(owner, name)
	if err != nil {
		return err
	}
	return m.writer.Save(ctx, def, owner, related)
}

func (m *Manager) Create(ctx context.Context, owner *Entity, name string, attributes bson.M) (*Entity, error) {
	def, err := m.relationOf(owner, name)
	if err != nil {
		return nil, err
	}
	return m.writer.Create(ctx, def, owner, attributes)
}

func (m *Manager) Associate(ctx context.Context, child *Entity, name string, parent *Entity) error {
	def, err := m.relationOf(child, name)
	if err != nil {
		return err
	}
	return m.writer.Associate(ctx, def, child, parent)
}

func (m *Manager) Dissociate(ctx context.Context, child *Entity, name string) error {
	def, err := m.relationOf(child, name)
	if err != nil {
		return err
	}
	return m.writer.Dissociate(ctx, def, child)
}

// WhereBelongsTo selects the entities of model pointing at parent through
// the BelongsTo relation name.
func (m *Manager) WhereBelongsTo(model string, name string, parent *Entity) (lbq.Where, error) {
	def, err := m.registry.Relation(model, name)
	if err != nil {
		return nil, err
	}
	return WhereBelongsTo(def, parent)
}

// Has builds a filter over model selecting the entities whose number of
// related documents through name compares to threshold.
func (m *Manager) Has(ctx context.Context, model string, name string, comparator string, threshold int64, scope Scope) (lbq.Where, error) {
	def, err := m.registry.Relation(model, name)
	if err != nil {
		return nil, err
	}
	return m.has.BuildHasFilter(ctx, def, comparator, threshold, scope)
}

// WhereHas selects the entities of model with at least one related
// document matching scope.
func (m *Manager) WhereHas(ctx context.Context, model string, name string, scope Scope) (lbq.Where, error) {
	return m.Has(ctx, model, name, ">=", 1, scope)
}

// FindHas runs a has filter and returns the matching entities of model.
func (m *Manager) FindHas(ctx context.Context, model string, name string, comparator string, threshold int64, scope Scope) ([]*Entity, error) {
	where, err := m.Has(ctx, model, name, comparator, threshold, scope)
	if err != nil {
		return nil, err
	}
	return m.Find(ctx, model, &lbq.Filter{Where: where})
}

// Persist inserts a new entity or writes its dirty attributes.
func (m *Manager) Persist(ctx context.Context, entity *Entity) error {
	if entity == nil {
		return errors.Errorf("%w: nothing to persist", ErrMissingKey)
	}
	return persistEntity(ctx, m.stores, m.logger, entity)
}

// Find returns the entities of model matching filter and eager loads the
// relations listed in its include clause.
func (m *Manager) Find(ctx context.Context, modelName string, filter *lbq.Filter) ([]*Entity, error) {
	model, err := m.registry.Model(modelName)
	if err != nil {
		return nil, err
	}
	store, err := m.stores.StoreFor(model.Name)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = &lbq.Filter{}
	}

	documents, err := store.Find(ctx, model.Collection, filter)
	if err != nil {
		return nil, err
	}

	entities := make([]*Entity, 0, len(documents))
	for _, document := range documents {
		entities = append(entities, Hydrate(model, document))
	}

	if err := m.loadIncludes(ctx, model, entities, filter.Include); err != nil {
		return nil, err
	}
	return entities, nil
}

func (m *Manager) loadIncludes(ctx context.Context, model *database.Model, entities []*Entity, includes []lbq.Include) error {
	if len(entities) == 0 {
		return nil
	}

	for _, include := range includes {
		def, err := m.registry.Relation(model.Name, include.Relation)
		if err != nil {
			return err
		}

		var scope *database.FilterBuilder
		var nested []lbq.Include
		if include.Scope != nil {
			scoped := *include.Scope
			nested = scoped.Include
			scoped.Include = nil
			scope = database.NewFilter().FromLBFilter(&scoped)
		}

		results, err := m.loader.LoadFor(ctx, entities, def, scope)
		if err != nil {
			return err
		}
		if len(nested) == 0 {
			continue
		}

		var related []*Entity
		seen := map[*Entity]bool{}
		for _, result := range results {
			candidates := result.Many
			if result.One != nil {
				candidates = []*Entity{result.One}
			}
			for _, entity := range candidates {
				if !seen[entity] {
					seen[entity] = true
					related = append(related, entity)
				}
			}
		}
		if err := m.loadIncludes(ctx, def.Related, related, nested); err != nil {
			return err
		}
	}
	return nil
}
