package database

import (
	"github.com/go-errors/errors"
)

// KeyType tells the identifier adapter how a model's key values are stored.
type KeyType int

const (
	// KeyObjectID keys are store-native object ids. Default for models.
	KeyObjectID KeyType = iota
	// KeyString keys are application chosen strings.
	KeyString
	// KeyInt keys are integers, normalized to int64.
	KeyInt
	// KeyOpaque keys are compared as given, only integer widths are collapsed.
	KeyOpaque
)

func (k KeyType) String() string {
	switch k {
	case KeyObjectID:
		return "objectid"
	case KeyString:
		return "string"
	case KeyInt:
		return "int"
	case KeyOpaque:
		return "opaque"
	}
	return "unknown"
}

const DefaultPrimaryKey = "_id"

// Model describes one document collection participating in relations.
type Model struct {
	Name       string
	Collection string
	// Connector is the datasource connector name serving the collection.
	Connector  string
	PrimaryKey string
	KeyType    KeyType
	// KeyGenerator produces primary keys for inserted documents. When nil the
	// store generates an object id.
	KeyGenerator KeyGenerator
	// Dates lists the attributes cast to time.Time on assignment.
	Dates []string
}

func (m *Model) GetModelName() string {
	return m.Name
}

func (m *Model) GetTableName() string {
	return m.Collection
}

func (m *Model) GetConnectorName() string {
	return m.Connector
}

// Key returns the primary key attribute, falling back to _id.
func (m *Model) Key() string {
	if m.PrimaryKey == "" {
		return DefaultPrimaryKey
	}
	return m.PrimaryKey
}

// IsDate reports whether attr is declared as a date attribute.
func (m *Model) IsDate(attr string) bool {
	for _, date := range m.Dates {
		if date == attr {
			return true
		}
	}
	return false
}

func (m *Model) Validate() error {
	if m == nil {
		return errors.New("model is nil")
	}
	if m.Name == "" {
		return errors.New("model name is required")
	}
	if m.Collection == "" {
		return errors.Errorf("model %s has no collection", m.Name)
	}
	return nil
}
