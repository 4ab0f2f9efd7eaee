package database

import (
	"time"

	"github.com/go-errors/errors"
	"github.com/simplereach/timeutils"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var ErrInvalidDate = errors.New("invalid date")

// CastDate converts a date attribute value into time.Time. Strings are parsed
// with timeutils, integers are unix seconds.
func CastDate(val any) (time.Time, error) {
	switch v := val.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		if v == nil {
			break
		}
		return *v, nil
	case bson.DateTime:
		return v.Time(), nil
	case string:
		parsed, err := timeutils.ParseDateString(v)
		if err != nil {
			return time.Time{}, errors.Errorf("%w: %s", ErrInvalidDate, v)
		}
		return parsed, nil
	case *string:
		if v == nil {
			break
		}
		return CastDate(*v)
	case int64:
		return time.Unix(v, 0), nil
	case int:
		return time.Unix(int64(v), 0), nil
	case *int64:
		if v == nil {
			break
		}
		return time.Unix(*v, 0), nil
	}
	return time.Time{}, errors.Errorf("%w: %T", ErrInvalidDate, val)
}
