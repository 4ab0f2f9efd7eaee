package database

import (
	"context"

	"github.com/go-errors/errors"
	"github.com/rs/zerolog"
	"github.com/xompass/vsaas-relations/helpers"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"
)

type MongoConnectorOpts struct {
	options.ClientOptions
	Name     string
	Database string
	Logger   *zerolog.Logger
}

type MongoConnector struct {
	ctx          context.Context
	client       *mongo.Client
	options      *MongoConnectorOpts
	logger       zerolog.Logger
	store        *MongoDocumentStore
	indexManager *MongoIndexManager
}

/**
 * NewMongoConnector creates a new MongoDB connector.
 * It initializes the MongoDB client with the provided options and checks the connection.
 */
func NewMongoConnector(ctx context.Context, opts *MongoConnectorOpts) (*MongoConnector, error) {
	connector := &MongoConnector{
		ctx:     ctx,
		options: opts,
		logger:  zerolog.Nop(),
	}
	if opts.Logger != nil {
		connector.logger = opts.Logger.With().Str("connector", opts.Name).Logger()
	}

	if err := connector.connect(); err != nil {
		return nil, err
	}

	if err := connector.Ping(); err != nil {
		return nil, err
	}

	connector.logger.Info().Str("database", opts.Database).Msg("connected to mongodb")
	return connector, nil
}

// NewDefaultMongoConnector reads MONGO_URI and MONGO_DATABASE from the environment.
func NewDefaultMongoConnector(ctx context.Context, logger *zerolog.Logger) (*MongoConnector, error) {
	uri := helpers.GetEnv("MONGO_URI", "mongodb://localhost:27017")

	clientOptions := options.Client().ApplyURI(uri)

	conn, err := connstring.Parse(uri)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	dbName := conn.Database
	if dbName == "" {
		dbName = "test"
	}

	opts := MongoConnectorOpts{
		ClientOptions: *clientOptions,
		Name:          "mongodb",
		Database:      helpers.GetEnv("MONGO_DATABASE", dbName),
		Logger:        logger,
	}

	return NewMongoConnector(ctx, &opts)
}

func (receiver *MongoConnector) connect() error {
	opts := receiver.options.ClientOptions

	client, err := mongo.Connect(&opts)
	if err != nil {
		return errors.Wrap(err, 0)
	}

	receiver.client = client
	receiver.indexManager = NewMongoIndexManager(receiver)
	return nil
}

func (receiver *MongoConnector) Ping() error {
	if receiver.client == nil {
		return errors.New("mongodb client not initialized")
	}
	return mapMongoError(receiver.client.Ping(receiver.ctx, nil))
}

func (receiver *MongoConnector) Disconnect() error {
	if receiver.client == nil {
		return errors.New("mongodb client not initialized")
	}
	return receiver.client.Disconnect(receiver.ctx)
}

// GetDriver returns the underlying MongoDB client.
func (receiver *MongoConnector) GetDriver() any {
	return receiver.client
}

func (receiver *MongoConnector) GetName() string {
	return receiver.options.Name
}

func (receiver *MongoConnector) GetDatabaseName() string {
	return receiver.options.Database
}

// Store returns the document store of the connector's database.
func (receiver *MongoConnector) Store() (DocumentStore, error) {
	if receiver.store == nil {
		store, err := NewMongoDocumentStore(receiver)
		if err != nil {
			return nil, err
		}
		receiver.store = store
	}
	return receiver.store, nil
}

func (receiver *MongoConnector) GetIndexManager() *MongoIndexManager {
	return receiver.indexManager
}
