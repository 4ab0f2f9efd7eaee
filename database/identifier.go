package database

import (
	"math"
	"reflect"
	"strconv"

	"github.com/go-errors/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var ErrMalformedIdentifier = errors.New("malformed identifier")

// ToStoreID converts an application key into the representation stored for keyType.
func ToStoreID(value any, keyType KeyType) (any, error) {
	if value == nil {
		return nil, errors.Errorf("%w: nil key", ErrMalformedIdentifier)
	}

	switch keyType {
	case KeyObjectID:
		return toObjectID(value)
	case KeyString:
		switch v := value.(type) {
		case string:
			return v, nil
		case *string:
			if v == nil {
				return nil, errors.Errorf("%w: nil key", ErrMalformedIdentifier)
			}
			return *v, nil
		case bson.ObjectID:
			return v.Hex(), nil
		}
		return nil, errors.Errorf("%w: %T is not a string key", ErrMalformedIdentifier, value)
	case KeyInt:
		return toInt64(value)
	case KeyOpaque:
		return toOpaque(value)
	}

	return nil, errors.Errorf("%w: unknown key type %d", ErrMalformedIdentifier, keyType)
}

// FromStoreID converts a stored key into its application value.
func FromStoreID(id any) any {
	switch v := id.(type) {
	case bson.ObjectID:
		return v.Hex()
	case *bson.ObjectID:
		if v == nil {
			return nil
		}
		return v.Hex()
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	case int8:
		return int64(v)
	case uint32:
		return int64(v)
	case uint16:
		return int64(v)
	case uint8:
		return int64(v)
	}
	return id
}

// NormalizeKey is ToStoreID without the error, returning nil for unusable keys.
func NormalizeKey(value any, keyType KeyType) any {
	normalized, err := ToStoreID(value, keyType)
	if err != nil {
		return nil
	}
	return normalized
}

// KeysEqual compares two keys after normalization under keyType.
func KeysEqual(a, b any, keyType KeyType) bool {
	left, err := ToStoreID(a, keyType)
	if err != nil {
		return false
	}
	right, err := ToStoreID(b, keyType)
	if err != nil {
		return false
	}
	return left == right
}

func toObjectID(value any) (bson.ObjectID, error) {
	switch v := value.(type) {
	case bson.ObjectID:
		return v, nil
	case *bson.ObjectID:
		if v == nil {
			return bson.ObjectID{}, errors.Errorf("%w: nil object id", ErrMalformedIdentifier)
		}
		return *v, nil
	case string:
		oid, err := bson.ObjectIDFromHex(v)
		if err != nil {
			return bson.ObjectID{}, errors.Errorf("%w: %q is not an object id", ErrMalformedIdentifier, v)
		}
		return oid, nil
	case *string:
		if v == nil {
			return bson.ObjectID{}, errors.Errorf("%w: nil object id", ErrMalformedIdentifier)
		}
		return toObjectID(*v)
	}
	return bson.ObjectID{}, errors.Errorf("%w: %T is not an object id", ErrMalformedIdentifier, value)
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			break
		}
		return int64(v), nil
	case float32:
		return toInt64(float64(v))
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			break
		}
		return int64(v), nil
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			break
		}
		return parsed, nil
	}
	return 0, errors.Errorf("%w: %v is not an integer key", ErrMalformedIdentifier, value)
}

func toOpaque(value any) (any, error) {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		return toInt64(v)
	case *string:
		if v == nil {
			return nil, errors.Errorf("%w: nil key", ErrMalformedIdentifier)
		}
		return *v, nil
	case *bson.ObjectID:
		if v == nil {
			return nil, errors.Errorf("%w: nil key", ErrMalformedIdentifier)
		}
		return *v, nil
	}
	if !reflect.TypeOf(value).Comparable() {
		return nil, errors.Errorf("%w: %T cannot be used as a key", ErrMalformedIdentifier, value)
	}
	return value, nil
}
