package relations

import (
	"slices"

	"github.com/xompass/vsaas-relations/database"
)

// IndexPlan lists the indexes serving the defined relations, keyed by
// collection: foreign keys (with their discriminator for morph kinds),
// owner arrays and mirror arrays.
func (r *Registry) IndexPlan() map[string][]database.MongoIndexDefinition {
	plan := map[string][]database.MongoIndexDefinition{}
	add := func(collection string, index database.MongoIndexDefinition) {
		exists := slices.ContainsFunc(plan[collection], func(current database.MongoIndexDefinition) bool {
			return current.Name == index.Name
		})
		if !exists {
			plan[collection] = append(plan[collection], index)
		}
	}

	for _, def := range r.Definitions() {
		switch def.Kind {
		case HasOne, HasMany:
			add(def.Related.Collection, database.NewMongoSimpleIndex(def.ForeignKey, true))
		case MorphOne, MorphMany:
			add(def.Related.Collection, database.NewMongoCompoundIndex(def.ForeignKey, def.MorphType))
		case BelongsTo:
			add(def.Parent.Collection, database.NewMongoSimpleIndex(def.ForeignKey, true))
		case BelongsToMany, MorphToMany, MorphedByMany:
			add(def.Parent.Collection, database.NewMongoSimpleIndex(def.OwnerArray, true))
			if def.Mirror {
				add(def.Related.Collection, database.NewMongoSimpleIndex(def.MirrorArray, true))
			}
		}
	}
	return plan
}
