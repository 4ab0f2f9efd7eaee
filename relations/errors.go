package relations

import (
	"github.com/go-errors/errors"
	"github.com/xompass/vsaas-relations/database"
)

var (
	// ErrMalformedIdentifier is returned when a key cannot be converted to the stored key type.
	ErrMalformedIdentifier = database.ErrMalformedIdentifier

	// ErrUnregisteredPolymorphicType is returned when a polymorphic relation refers
	// to a model with no registered type name.
	ErrUnregisteredPolymorphicType = errors.New("unregistered polymorphic type")

	// ErrUnsupportedOperation is returned when an operation does not apply to the relation kind.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	ErrUnknownRelation    = errors.New("unknown relation")
	ErrUnknownModel       = errors.New("unknown model")
	ErrMissingKey         = errors.New("missing key")
	ErrInvalidComparator  = errors.New("invalid comparator")
	ErrInvalidDefinition  = errors.New("invalid relation definition")
	ErrDuplicateRelation  = errors.New("relation already defined")
	ErrDuplicateMorphType = errors.New("morph type already registered")
)
