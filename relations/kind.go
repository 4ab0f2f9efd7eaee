package relations

// Kind is the closed set of relation variants.
type Kind int

const (
	HasOne Kind = iota
	HasMany
	BelongsTo
	BelongsToMany
	MorphOne
	MorphMany
	MorphToMany
	MorphedByMany
)

var kindNames = map[Kind]string{
	HasOne:        "hasOne",
	HasMany:       "hasMany",
	BelongsTo:     "belongsTo",
	BelongsToMany: "belongsToMany",
	MorphOne:      "morphOne",
	MorphMany:     "morphMany",
	MorphToMany:   "morphToMany",
	MorphedByMany: "morphedByMany",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k Kind) valid() bool {
	_, ok := kindNames[k]
	return ok
}

// ToMany reports whether the relation resolves to a sequence.
func (k Kind) ToMany() bool {
	switch k {
	case HasMany, BelongsToMany, MorphMany, MorphToMany, MorphedByMany:
		return true
	case HasOne, BelongsTo, MorphOne:
		return false
	}
	return false
}

// UsesPivot reports whether the relation is stored as embedded id arrays.
func (k Kind) UsesPivot() bool {
	switch k {
	case BelongsToMany, MorphToMany, MorphedByMany:
		return true
	case HasOne, HasMany, BelongsTo, MorphOne, MorphMany:
		return false
	}
	return false
}

// IsMorph reports whether the relation is scoped by a type discriminator.
func (k Kind) IsMorph() bool {
	switch k {
	case MorphOne, MorphMany, MorphToMany, MorphedByMany:
		return true
	case HasOne, HasMany, BelongsTo, BelongsToMany:
		return false
	}
	return false
}
