package relations

import (
	"github.com/xompass/vsaas-relations/database"
)

// Definition is the immutable descriptor of one relation of a model. It is
// produced by Registry.Define and must not be modified afterwards.
type Definition struct {
	Name    string `validate:"required,attrname"`
	Kind    Kind
	Parent  *database.Model `validate:"required"`
	Related *database.Model `validate:"required"`

	// ForeignKey holds the owner key: on the related document for has and
	// morph kinds, on the parent document for BelongsTo.
	ForeignKey string `validate:"omitempty,attrname"`
	// OwnerKey is the attribute the foreign key points at: on the parent for
	// has and morph kinds, on the related document for BelongsTo.
	OwnerKey string `validate:"omitempty,attrname"`

	MorphName string `validate:"omitempty,attrname"`
	// MorphType is the discriminator attribute of MorphOne and MorphMany.
	MorphType string `validate:"omitempty,attrname"`
	// MorphClass is the registered type name written to the discriminator.
	MorphClass string

	// OwnerArray lives on the parent and holds related keys.
	OwnerArray string `validate:"omitempty,attrname"`
	// MirrorArray lives on the related document and holds parent keys.
	MirrorArray string `validate:"omitempty,attrname"`
	// ParentKey and RelatedKey are the comparison keys stored in the arrays.
	ParentKey  string `validate:"omitempty,attrname"`
	RelatedKey string `validate:"omitempty,attrname"`

	// Mirror enables writes to MirrorArray. Defaults to true for pivot kinds.
	Mirror bool
	// Unconstrained relation queries only carry the discriminator scope.
	Unconstrained bool
}

// Option customizes a definition before defaults are applied.
type Option func(*Definition)

func WithForeignKey(attr string) Option {
	return func(d *Definition) {
		d.ForeignKey = attr
	}
}

func WithOwnerKey(attr string) Option {
	return func(d *Definition) {
		d.OwnerKey = attr
	}
}

// WithPivotKeys names the array attribute on the parent and its mirror on the related document.
func WithPivotKeys(ownerArray, mirrorArray string) Option {
	return func(d *Definition) {
		d.OwnerArray = ownerArray
		d.MirrorArray = mirrorArray
	}
}

// WithKeys names the comparison key attributes of the parent and related documents.
func WithKeys(parentKey, relatedKey string) Option {
	return func(d *Definition) {
		d.ParentKey = parentKey
		d.RelatedKey = relatedKey
	}
}

func WithMorphName(name string) Option {
	return func(d *Definition) {
		d.MorphName = name
	}
}

func WithMorphType(attr string) Option {
	return func(d *Definition) {
		d.MorphType = attr
	}
}

// WithoutMirror keeps the association only on the parent's array.
func WithoutMirror() Option {
	return func(d *Definition) {
		d.Mirror = false
	}
}

func Unconstrained() Option {
	return func(d *Definition) {
		d.Unconstrained = true
	}
}

func keyTypeFor(model *database.Model, attr string) database.KeyType {
	if attr == model.Key() {
		return model.KeyType
	}
	return database.KeyOpaque
}

// OwnerKeyType is the key type of the values identifying the owner side:
// the owner key of has and morph kinds, the related owner key of BelongsTo
// and the parent comparison key of pivot kinds.
func (d *Definition) OwnerKeyType() database.KeyType {
	switch d.Kind {
	case HasOne, HasMany, MorphOne, MorphMany:
		return keyTypeFor(d.Parent, d.OwnerKey)
	case BelongsTo:
		return keyTypeFor(d.Related, d.OwnerKey)
	case BelongsToMany, MorphToMany, MorphedByMany:
		return keyTypeFor(d.Parent, d.ParentKey)
	}
	return database.KeyOpaque
}

// RelatedKeyType is the key type of the values stored in OwnerArray.
func (d *Definition) RelatedKeyType() database.KeyType {
	return keyTypeFor(d.Related, d.RelatedKey)
}

// ownerAttr is the parent attribute compared against the related side.
func (d *Definition) ownerAttr() string {
	switch d.Kind {
	case HasOne, HasMany, MorphOne, MorphMany:
		return d.OwnerKey
	case BelongsTo:
		return d.ForeignKey
	case BelongsToMany, MorphToMany, MorphedByMany:
		return d.ParentKey
	}
	return ""
}
