package relations

import (
	"cmp"
	"regexp"
	"slices"
	"sync"

	"github.com/go-errors/errors"
	"github.com/go-playground/validator/v10"
	"github.com/jinzhu/inflection"
	"github.com/xompass/vsaas-relations/database"
)

var attrNamePattern = regexp.MustCompile(`^[^$\s][^\s]*$`)

// Registry holds the models, morph type names and relation definitions.
// Definitions are read-only once returned, so a Registry may be shared.
type Registry struct {
	mu          sync.RWMutex
	models      map[string]*database.Model
	morphModels map[string]*database.Model
	morphNames  map[string]string
	definitions map[string]map[string]*Definition
	validate    *validator.Validate
}

func NewRegistry() *Registry {
	validate := validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("attrname", func(fl validator.FieldLevel) bool {
		return attrNamePattern.MatchString(fl.Field().String())
	})

	return &Registry{
		models:      map[string]*database.Model{},
		morphModels: map[string]*database.Model{},
		morphNames:  map[string]string{},
		definitions: map[string]map[string]*Definition{},
		validate:    validate,
	}
}

func (r *Registry) RegisterModel(models ...*database.Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, model := range models {
		if err := model.Validate(); err != nil {
			return err
		}
		if current, ok := r.models[model.Name]; ok && current != model {
			return errors.Errorf("model %s is already registered", model.Name)
		}
		r.models[model.Name] = model
	}
	return nil
}

func (r *Registry) Model(name string) (*database.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model, ok := r.models[name]
	if !ok {
		return nil, errors.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return model, nil
}

// RegisterMorphType maps the discriminator value name to model.
func (r *Registry) RegisterMorphType(name string, model *database.Model) error {
	if name == "" {
		return errors.Errorf("%w: empty morph type name", ErrInvalidDefinition)
	}
	if err := r.RegisterModel(model); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.morphModels[name]; ok && current != model {
		return errors.Errorf("%w: %s is mapped to %s", ErrDuplicateMorphType, name, current.Name)
	}
	if current, ok := r.morphNames[model.Name]; ok && current != name {
		return errors.Errorf("%w: %s is registered as %s", ErrDuplicateMorphType, model.Name, current)
	}
	r.morphModels[name] = model
	r.morphNames[model.Name] = name
	return nil
}

// MorphTypeOf returns the registered type name of model.
func (r *Registry) MorphTypeOf(model *database.Model) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.morphNames[model.Name]
	if !ok {
		return "", errors.Errorf("%w: %s", ErrUnregisteredPolymorphicType, model.Name)
	}
	return name, nil
}

// ModelForMorphType returns the model registered under a discriminator value.
func (r *Registry) ModelForMorphType(name string) (*database.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model, ok := r.morphModels[name]
	if !ok {
		return nil, errors.Errorf("%w: %s", ErrUnregisteredPolymorphicType, name)
	}
	return model, nil
}

// Define resolves and stores a relation of parent. Missing attribute names
// are derived from the collection names, the relation name and the morph name.
func (r *Registry) Define(parent *database.Model, name string, kind Kind, related *database.Model, opts ...Option) (*Definition, error) {
	if parent == nil || related == nil {
		return nil, errors.Errorf("%w: %s needs parent and related models", ErrInvalidDefinition, name)
	}
	if !kind.valid() {
		return nil, errors.Errorf("%w: %s has unknown kind %d", ErrInvalidDefinition, name, kind)
	}
	if err := r.RegisterModel(parent, related); err != nil {
		return nil, err
	}

	def := &Definition{
		Name:    name,
		Kind:    kind,
		Parent:  parent,
		Related: related,
		Mirror:  kind.UsesPivot(),
	}
	for _, opt := range opts {
		opt(def)
	}

	if err := r.applyDefaults(def); err != nil {
		return nil, err
	}
	if err := r.check(def); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.definitions[parent.Name] == nil {
		r.definitions[parent.Name] = map[string]*Definition{}
	}
	if _, exists := r.definitions[parent.Name][name]; exists {
		return nil, errors.Errorf("%w: %s.%s", ErrDuplicateRelation, parent.Name, name)
	}
	r.definitions[parent.Name][name] = def
	return def, nil
}

func (r *Registry) HasOne(parent *database.Model, name string, related *database.Model, opts ...Option) (*Definition, error) {
	return r.Define(parent, name, HasOne, related, opts...)
}

func (r *Registry) HasMany(parent *database.Model, name string, related *database.Model, opts ...Option) (*Definition, error) {
	return r.Define(parent, name, HasMany, related, opts...)
}

func (r *Registry) BelongsTo(parent *database.Model, name string, related *database.Model, opts ...Option) (*Definition, error) {
	return r.Define(parent, name, BelongsTo, related, opts...)
}

func (r *Registry) BelongsToMany(parent *database.Model, name string, related *database.Model, opts ...Option) (*Definition, error) {
	return r.Define(parent, name, BelongsToMany, related, opts...)
}

func (r *Registry) MorphOne(parent *database.Model, name string, related *database.Model, morph string, opts ...Option) (*Definition, error) {
	return r.Define(parent, name, MorphOne, related, append([]Option{WithMorphName(morph)}, opts...)...)
}

func (r *Registry) MorphMany(parent *database.Model, name string, related *database.Model, morph string, opts ...Option) (*Definition, error) {
	return r.Define(parent, name, MorphMany, related, append([]Option{WithMorphName(morph)}, opts...)...)
}

func (r *Registry) MorphToMany(parent *database.Model, name string, related *database.Model, morph string, opts ...Option) (*Definition, error) {
	return r.Define(parent, name, MorphToMany, related, append([]Option{WithMorphName(morph)}, opts...)...)
}

func (r *Registry) MorphedByMany(parent *database.Model, name string, related *database.Model, morph string, opts ...Option) (*Definition, error) {
	return r.Define(parent, name, MorphedByMany, related, append([]Option{WithMorphName(morph)}, opts...)...)
}

// Relation returns the definition name of model.
func (r *Registry) Relation(model string, name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.definitions[model][name]
	if !ok {
		return nil, errors.Errorf("%w: %s.%s", ErrUnknownRelation, model, name)
	}
	return def, nil
}

// Definitions returns every definition ordered by parent model and name.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Definition
	for _, byName := range r.definitions {
		for _, def := range byName {
			result = append(result, def)
		}
	}
	slices.SortFunc(result, func(a, b *Definition) int {
		return cmp.Or(cmp.Compare(a.Parent.Name, b.Parent.Name), cmp.Compare(a.Name, b.Name))
	})
	return result
}

func singularKey(collection string, suffix string) string {
	return inflection.Singular(collection) + suffix
}

func (r *Registry) applyDefaults(def *Definition) error {
	parent, related := def.Parent, def.Related

	switch def.Kind {
	case HasOne, HasMany:
		def.ForeignKey = cmp.Or(def.ForeignKey, singularKey(parent.Collection, "_id"))
		def.OwnerKey = cmp.Or(def.OwnerKey, parent.Key())
	case BelongsTo:
		def.ForeignKey = cmp.Or(def.ForeignKey, def.Name+"_id")
		def.OwnerKey = cmp.Or(def.OwnerKey, related.Key())
	case BelongsToMany:
		def.OwnerArray = cmp.Or(def.OwnerArray, singularKey(related.Collection, "_ids"))
		def.MirrorArray = cmp.Or(def.MirrorArray, singularKey(parent.Collection, "_ids"))
		def.ParentKey = cmp.Or(def.ParentKey, parent.Key())
		def.RelatedKey = cmp.Or(def.RelatedKey, related.Key())
	case MorphOne, MorphMany:
		class, err := r.MorphTypeOf(parent)
		if err != nil {
			return err
		}
		def.MorphClass = class
		def.ForeignKey = cmp.Or(def.ForeignKey, def.MorphName+"_id")
		def.MorphType = cmp.Or(def.MorphType, def.MorphName+"_type")
		def.OwnerKey = cmp.Or(def.OwnerKey, parent.Key())
	case MorphToMany:
		class, err := r.MorphTypeOf(parent)
		if err != nil {
			return err
		}
		def.MorphClass = class
		def.OwnerArray = cmp.Or(def.OwnerArray, singularKey(related.Collection, "_ids"))
		def.MirrorArray = cmp.Or(def.MirrorArray, def.MorphName+"_"+class+"_ids")
		def.ParentKey = cmp.Or(def.ParentKey, parent.Key())
		def.RelatedKey = cmp.Or(def.RelatedKey, related.Key())
	case MorphedByMany:
		class, err := r.MorphTypeOf(related)
		if err != nil {
			return err
		}
		def.MorphClass = class
		def.OwnerArray = cmp.Or(def.OwnerArray, def.MorphName+"_"+class+"_ids")
		def.MirrorArray = cmp.Or(def.MirrorArray, singularKey(parent.Collection, "_ids"))
		def.ParentKey = cmp.Or(def.ParentKey, parent.Key())
		def.RelatedKey = cmp.Or(def.RelatedKey, related.Key())
	default:
		return errors.Errorf("%w: unknown kind %d", ErrInvalidDefinition, def.Kind)
	}
	return nil
}

func (r *Registry) check(def *Definition) error {
	if err := r.validate.Struct(def); err != nil {
		return errors.Errorf("%w: %s.%s: %v", ErrInvalidDefinition, def.Parent.Name, def.Name, err)
	}

	fail := func(reason string) error {
		return errors.Errorf("%w: %s.%s: %s", ErrInvalidDefinition, def.Parent.Name, def.Name, reason)
	}

	if def.Kind.IsMorph() && def.MorphName == "" {
		return fail("morph name is required")
	}

	switch def.Kind {
	case HasOne, HasMany, BelongsTo:
		if def.ForeignKey == "" || def.OwnerKey == "" {
			return fail("foreign and owner keys are required")
		}
	case MorphOne, MorphMany:
		if def.ForeignKey == "" || def.OwnerKey == "" || def.MorphType == "" {
			return fail("foreign key, owner key and morph type are required")
		}
		if def.ForeignKey == def.MorphType {
			return fail("foreign key and morph type must differ")
		}
	case BelongsToMany, MorphToMany, MorphedByMany:
		if def.OwnerArray == "" || def.MirrorArray == "" || def.ParentKey == "" || def.RelatedKey == "" {
			return fail("pivot keys and comparison keys are required")
		}
		if def.Mirror && def.Parent.Collection == def.Related.Collection && def.OwnerArray == def.MirrorArray {
			return fail("owner and mirror arrays share the attribute " + def.OwnerArray)
		}
	}
	return nil
}
