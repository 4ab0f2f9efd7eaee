package database

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-errors/errors"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoIndexManager manages indexes for MongoDB collections
type MongoIndexManager struct {
	connector *MongoConnector
	logger    zerolog.Logger
}

func NewMongoIndexManager(connector *MongoConnector) *MongoIndexManager {
	return &MongoIndexManager{
		connector: connector,
		logger:    connector.logger.With().Str("component", "indexes").Logger(),
	}
}

// EnsureIndexes creates the given indexes on collection, logging drift first.
func (m *MongoIndexManager) EnsureIndexes(ctx context.Context, collection string, indexes []MongoIndexDefinition) error {
	if len(indexes) == 0 {
		return nil
	}

	warnings, err := m.CompareIndexes(ctx, collection, indexes)
	if err != nil {
		m.logger.Warn().Err(err).Str("collection", collection).Msg("could not compare indexes")
	}
	for _, warning := range warnings {
		m.logger.Warn().Str("collection", collection).Str("type", string(warning.Type)).Msg(warning.Message)
	}

	indexModels := make([]mongo.IndexModel, 0, len(indexes))
	for _, idx := range indexes {
		indexModels = append(indexModels, convertToMongoIndexModel(idx))
	}

	names, err := m.getCollection(collection).Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return errors.Errorf("failed to create indexes for %s: %w", collection, mapMongoError(err))
	}

	m.logger.Info().Str("collection", collection).Strs("indexes", names).Msg("indexes ensured")
	return nil
}

// ListIndexes returns the raw index documents of collection keyed by name
func (m *MongoIndexManager) ListIndexes(ctx context.Context, collection string) (map[string]bson.M, error) {
	cursor, err := m.getCollection(collection).Indexes().List(ctx)
	if err != nil {
		return nil, errors.Errorf("failed to list indexes: %w", mapMongoError(err))
	}
	defer cursor.Close(ctx)

	indexes := map[string]bson.M{}
	for cursor.Next(ctx) {
		var index bson.M
		if err := cursor.Decode(&index); err != nil {
			return nil, errors.Errorf("failed to decode index: %w", err)
		}
		if name, ok := index["name"].(string); ok {
			indexes[name] = index
		}
	}

	if err := cursor.Err(); err != nil {
		return nil, errors.Errorf("cursor error: %w", err)
	}
	return indexes, nil
}

// CompareIndexes compares defined indexes with existing ones
func (m *MongoIndexManager) CompareIndexes(ctx context.Context, collection string, defined []MongoIndexDefinition) ([]IndexWarning, error) {
	existing, err := m.ListIndexes(ctx, collection)
	if err != nil {
		return nil, err
	}
	return diffIndexes(defined, existing), nil
}

func diffIndexes(defined []MongoIndexDefinition, existing map[string]bson.M) []IndexWarning {
	var warnings []IndexWarning
	definedByName := make(map[string]MongoIndexDefinition, len(defined))
	for _, idx := range defined {
		definedByName[idx.Name] = idx
	}

	names := make([]string, 0, len(existing))
	for name := range existing {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == "_id_" {
			continue
		}
		if _, ok := definedByName[name]; !ok {
			warnings = append(warnings, IndexWarning{
				Type:    IndexWarningMissingInCode,
				Message: fmt.Sprintf("Index '%s' exists in database but is not defined in code", name),
				Details: map[string]any{"indexName": name, "dbIndex": existing[name]},
			})
		}
	}

	for _, idx := range defined {
		dbIndex, ok := existing[idx.Name]
		if !ok {
			warnings = append(warnings, IndexWarning{
				Type:    IndexWarningMissingInDB,
				Message: fmt.Sprintf("Index '%s' is defined in code but does not exist in database", idx.Name),
				Details: map[string]any{"indexName": idx.Name, "definition": idx},
			})
			continue
		}
		if diff := compareIndexDetails(idx, dbIndex); diff != "" {
			warnings = append(warnings, IndexWarning{
				Type:    IndexWarningDifferent,
				Message: fmt.Sprintf("Index '%s' differs: %s", idx.Name, diff),
				Details: map[string]any{"indexName": idx.Name, "difference": diff},
			})
		}
	}
	return warnings
}

func (m *MongoIndexManager) getCollection(collection string) *mongo.Collection {
	return m.connector.client.Database(m.connector.options.Database).Collection(collection)
}

func convertToMongoIndexModel(idx MongoIndexDefinition) mongo.IndexModel {
	keys := bson.D{}
	for _, field := range idx.Fields {
		keys = append(keys, bson.E{Key: field.Name, Value: field.Order})
	}

	opts := options.Index().SetName(idx.Name)
	if idx.Unique {
		opts.SetUnique(true)
	}
	if idx.Sparse {
		opts.SetSparse(true)
	}
	if idx.PartialFilter != nil {
		opts.SetPartialFilterExpression(idx.PartialFilter)
	}

	return mongo.IndexModel{Keys: keys, Options: opts}
}

func compareIndexDetails(defined MongoIndexDefinition, existing bson.M) string {
	var differences []string

	if existingKeys, ok := asMap(existing["key"]); ok {
		definedKeys := make(map[string]int, len(defined.Fields))
		for _, field := range defined.Fields {
			definedKeys[field.Name] = field.Order
		}

		if len(existingKeys) != len(definedKeys) {
			differences = append(differences, "different number of fields")
		} else {
			for key, val := range existingKeys {
				order, _ := toFloat(val)
				if definedOrder, ok := definedKeys[key]; !ok || float64(definedOrder) != order {
					differences = append(differences, fmt.Sprintf("field '%s' order mismatch", key))
				}
			}
		}
	}

	if unique, ok := existing["unique"].(bool); ok && unique != defined.Unique {
		differences = append(differences, "unique constraint differs")
	}
	if sparse, ok := existing["sparse"].(bool); ok && sparse != defined.Sparse {
		differences = append(differences, "sparse option differs")
	}

	sort.Strings(differences)
	return strings.Join(differences, ", ")
}
