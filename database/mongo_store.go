package database

import (
	"context"
	"reflect"

	"github.com/go-errors/errors"
	"github.com/rs/zerolog"
	"github.com/xompass/vsaas-relations/http_errors"
	"github.com/xompass/vsaas-relations/lbq"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type MongoUpdate struct {
	Set      any `bson:"$set,omitempty"`
	Unset    any `bson:"$unset,omitempty"`
	AddToSet any `bson:"$addToSet,omitempty"`
	PullAll  any `bson:"$pullAll,omitempty"`
}

// MongoDocumentStore implements DocumentStore on a MongoDB database.
type MongoDocumentStore struct {
	connector *MongoConnector
	database  *mongo.Database
	logger    zerolog.Logger
}

func NewMongoDocumentStore(connector *MongoConnector) (*MongoDocumentStore, error) {
	if connector == nil {
		return nil, http_errors.InternalServerErrorWithCode(MONGO_CLIENT_NOT_INITIALIZED, "connector is nil")
	}

	client, ok := connector.GetDriver().(*mongo.Client)
	if !ok || client == nil {
		return nil, http_errors.InternalServerErrorWithCode(MONGO_CLIENT_NOT_INITIALIZED, "the MongoDB client is not initialized correctly")
	}

	databaseName := connector.GetDatabaseName()
	if databaseName == "" {
		return nil, http_errors.BadRequestErrorWithCode(MONGO_DATABASE_NAME_REQUIRED, "database name is required")
	}

	return &MongoDocumentStore{
		connector: connector,
		database:  client.Database(databaseName),
		logger:    connector.logger.With().Str("database", databaseName).Logger(),
	}, nil
}

func (s *MongoDocumentStore) collection(name string) *mongo.Collection {
	return s.database.Collection(name)
}

func (s *MongoDocumentStore) Find(ctx context.Context, collection string, filter *lbq.Filter) ([]bson.M, error) {
	mongoFilter, err := adaptLoopbackFilter(filter)
	if err != nil {
		return nil, http_errors.BadRequestErrorWithCode(STORE_INVALID_FILTER, err.Error())
	}

	opts := options.Find()
	if len(mongoFilter.Options.Sort) > 0 {
		opts.SetSort(mongoFilter.Options.Sort)
	}
	if mongoFilter.Options.Limit != nil {
		opts.SetLimit(*mongoFilter.Options.Limit)
	}
	if mongoFilter.Options.Skip != nil {
		opts.SetSkip(*mongoFilter.Options.Skip)
	}
	if len(mongoFilter.Options.Fields) > 0 {
		opts.SetProjection(mongoFilter.Options.Fields)
	}

	s.logger.Trace().Str("collection", collection).Interface("where", mongoFilter.Where).Msg("find")

	cursor, err := s.collection(collection).Find(ctx, mongoFilter.Where, opts)
	if err != nil {
		return nil, mapMongoError(err)
	}

	documents := []bson.M{}
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, mapMongoError(err)
	}
	return documents, nil
}

func (s *MongoDocumentStore) Count(ctx context.Context, collection string, where lbq.Where) (int64, error) {
	query, err := buildWhere(where)
	if err != nil {
		return 0, http_errors.BadRequestErrorWithCode(STORE_INVALID_FILTER, err.Error())
	}

	count, err := s.collection(collection).CountDocuments(ctx, query)
	if err != nil {
		return 0, mapMongoError(err)
	}
	return count, nil
}

type groupCount struct {
	ID    any   `bson:"_id"`
	Count int64 `bson:"count"`
}

func (s *MongoDocumentStore) CountBy(ctx context.Context, collection string, where lbq.Where, attr string, unwind bool) (map[any]int64, error) {
	query, err := buildWhere(where)
	if err != nil {
		return nil, http_errors.BadRequestErrorWithCode(STORE_INVALID_FILTER, err.Error())
	}

	pipeline := mongo.Pipeline{{{Key: "$match", Value: query}}}
	if unwind {
		pipeline = append(pipeline, bson.D{{Key: "$unwind", Value: "$" + attr}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$group", Value: bson.M{
		"_id":   "$" + attr,
		"count": bson.M{"$sum": 1},
	}}})

	cursor, err := s.collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, mapMongoError(err)
	}

	var groups []groupCount
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, mapMongoError(err)
	}

	counts := make(map[any]int64, len(groups))
	for _, group := range groups {
		if group.ID != nil && !reflect.TypeOf(group.ID).Comparable() {
			continue
		}
		counts[group.ID] += group.Count
	}
	return counts, nil
}

func (s *MongoDocumentStore) Patch(ctx context.Context, collection string, where lbq.Where, delta Delta) (WriteResult, error) {
	if delta.IsEmpty() {
		return WriteResult{}, http_errors.BadRequestErrorWithCode(STORE_EMPTY_DELTA, "update delta is empty")
	}

	query, err := buildWhere(where)
	if err != nil {
		return WriteResult{}, http_errors.BadRequestErrorWithCode(STORE_INVALID_FILTER, err.Error())
	}

	update := toMongoUpdate(delta)
	s.logger.Debug().Str("collection", collection).Interface("where", query).Interface("update", update).Msg("patch")

	res, err := s.collection(collection).UpdateMany(ctx, query, update)
	if err != nil {
		return WriteResult{}, mapMongoError(err)
	}
	return WriteResult{MatchedCount: res.MatchedCount, ModifiedCount: res.ModifiedCount}, nil
}

func toMongoUpdate(delta Delta) MongoUpdate {
	update := MongoUpdate{}
	if len(delta.Set) > 0 {
		update.Set = bson.M(delta.Set)
	}
	if len(delta.Unset) > 0 {
		unset := bson.M{}
		for _, attr := range delta.Unset {
			unset[attr] = ""
		}
		update.Unset = unset
	}
	if len(delta.AddToSet) > 0 {
		addToSet := bson.M{}
		for attr, values := range delta.AddToSet {
			addToSet[attr] = bson.M{"$each": values}
		}
		update.AddToSet = addToSet
	}
	if len(delta.Pull) > 0 {
		pull := bson.M{}
		for attr, values := range delta.Pull {
			pull[attr] = values
		}
		update.PullAll = pull
	}
	return update
}

func (s *MongoDocumentStore) Insert(ctx context.Context, collection string, document bson.M) (any, error) {
	if document == nil {
		return nil, errors.New("document cannot be nil")
	}
	if document[DefaultPrimaryKey] == nil {
		document[DefaultPrimaryKey] = s.GenerateID()
	}

	res, err := s.collection(collection).InsertOne(ctx, document)
	if err != nil {
		return nil, mapMongoError(err)
	}
	return res.InsertedID, nil
}

func (s *MongoDocumentStore) Delete(ctx context.Context, collection string, where lbq.Where) (int64, error) {
	query, err := buildWhere(where)
	if err != nil {
		return 0, http_errors.BadRequestErrorWithCode(STORE_INVALID_FILTER, err.Error())
	}

	res, err := s.collection(collection).DeleteMany(ctx, query)
	if err != nil {
		return 0, mapMongoError(err)
	}
	return res.DeletedCount, nil
}

func (s *MongoDocumentStore) GenerateID() bson.ObjectID {
	return bson.NewObjectID()
}
