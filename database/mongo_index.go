package database

import "strings"

// MongoIndexDefinition represents a MongoDB index with the options used by relation indexes
type MongoIndexDefinition struct {
	IndexDefinition

	Sparse        bool           // Only index documents that have the indexed field
	PartialFilter map[string]any // Partial filter expression
}

// NewMongoSimpleIndex creates a simple ascending index on a single field
func NewMongoSimpleIndex(fieldName string, sparse bool) MongoIndexDefinition {
	return MongoIndexDefinition{
		IndexDefinition: IndexDefinition{
			Name:   fieldName + "_1",
			Fields: []IndexField{{Name: fieldName, Order: 1}},
		},
		Sparse: sparse,
	}
}

// NewMongoCompoundIndex creates an ascending compound index named after its fields
func NewMongoCompoundIndex(fieldNames ...string) MongoIndexDefinition {
	fields := make([]IndexField, 0, len(fieldNames))
	parts := make([]string, 0, len(fieldNames))
	for _, name := range fieldNames {
		fields = append(fields, IndexField{Name: name, Order: 1})
		parts = append(parts, name+"_1")
	}

	return MongoIndexDefinition{
		IndexDefinition: IndexDefinition{
			Name:   strings.Join(parts, "_"),
			Fields: fields,
		},
	}
}
