package relations

import (
	"maps"
	"slices"

	"github.com/bytedance/sonic"
	"github.com/go-errors/errors"
	"github.com/xompass/vsaas-relations/database"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Entity is the in-memory form of one document. It is not safe for
// concurrent mutation.
type Entity struct {
	model      *database.Model
	attributes bson.M
	dirty      map[string]bool
	relations  map[string]any
}

// NewEntity builds an unsaved entity. Every given attribute is dirty.
func NewEntity(model *database.Model, attributes bson.M) (*Entity, error) {
	entity := &Entity{
		model:      model,
		attributes: bson.M{},
		dirty:      map[string]bool{},
		relations:  map[string]any{},
	}
	for key, value := range attributes {
		if err := entity.Set(key, value); err != nil {
			return nil, err
		}
	}
	return entity, nil
}

// Hydrate wraps a document read from the store. Nothing is dirty.
func Hydrate(model *database.Model, document bson.M) *Entity {
	if document == nil {
		document = bson.M{}
	}
	return &Entity{
		model:      model,
		attributes: document,
		dirty:      map[string]bool{},
		relations:  map[string]any{},
	}
}

func (e *Entity) Model() *database.Model {
	return e.model
}

// ID returns the primary key value, nil until the entity is persisted.
func (e *Entity) ID() any {
	return e.Get(e.model.Key())
}

func (e *Entity) Exists() bool {
	return e.ID() != nil
}

// Get reads an attribute. Dotted paths read nested documents.
func (e *Entity) Get(path string) any {
	value, _ := database.LookupPath(e.attributes, path)
	return value
}

func (e *Entity) Has(path string) bool {
	_, found := database.LookupPath(e.attributes, path)
	return found
}

// Set assigns an attribute and marks it dirty. Date attributes of the model
// are cast to time.Time.
func (e *Entity) Set(path string, value any) error {
	if e.model.IsDate(path) && value != nil {
		date, err := database.CastDate(value)
		if err != nil {
			return errors.Errorf("%w: attribute %s", err, path)
		}
		value = date
	}
	database.SetPath(e.attributes, path, value)
	e.dirty[path] = true
	return nil
}

// setClean assigns an attribute that already reflects the stored state.
func (e *Entity) setClean(path string, value any) {
	database.SetPath(e.attributes, path, value)
}

func (e *Entity) IsDirty(path string) bool {
	return e.dirty[path]
}

// Dirty returns the dirty attribute paths in lexical order.
func (e *Entity) Dirty() []string {
	return slices.Sorted(maps.Keys(e.dirty))
}

// DirtyAttributes returns the values of the dirty attributes keyed by path.
func (e *Entity) DirtyAttributes() bson.M {
	result := bson.M{}
	for path := range e.dirty {
		result[path] = e.Get(path)
	}
	return result
}

func (e *Entity) markClean() {
	e.dirty = map[string]bool{}
}

// Attributes returns a copy of the attributes.
func (e *Entity) Attributes() bson.M {
	return database.CloneDocument(e.attributes)
}

// SetRelation stores a loaded relation: *Entity or nil for to-one kinds,
// []*Entity for to-many kinds.
func (e *Entity) SetRelation(name string, value any) {
	e.relations[name] = value
}

func (e *Entity) Relation(name string) (any, bool) {
	value, ok := e.relations[name]
	return value, ok
}

func (e *Entity) RelationLoaded(name string) bool {
	_, ok := e.relations[name]
	return ok
}

// One returns a loaded to-one relation.
func (e *Entity) One(name string) *Entity {
	related, _ := e.relations[name].(*Entity)
	return related
}

// Many returns a loaded to-many relation.
func (e *Entity) Many(name string) []*Entity {
	related, _ := e.relations[name].([]*Entity)
	return related
}

func (e *Entity) UnsetRelation(name string) {
	delete(e.relations, name)
}

func (e *Entity) toMap() map[string]any {
	result := map[string]any{}
	for key, value := range e.attributes {
		if oid, ok := value.(bson.ObjectID); ok {
			value = oid.Hex()
		}
		result[key] = value
	}
	for name, value := range e.relations {
		switch related := value.(type) {
		case *Entity:
			if related == nil {
				result[name] = nil
				continue
			}
			result[name] = related.toMap()
		case []*Entity:
			items := make([]map[string]any, 0, len(related))
			for _, item := range related {
				items = append(items, item.toMap())
			}
			result[name] = items
		}
	}
	return result
}

// MarshalJSON renders attributes and loaded relations. Top level object ids
// are rendered as hex strings.
func (e *Entity) MarshalJSON() ([]byte, error) {
	return sonic.Marshal(e.toMap())
}
