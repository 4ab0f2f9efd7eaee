package database

import (
	"context"
	"sync"

	"github.com/go-errors/errors"
)

// Connector is the contract shared by every database connector.
type Connector interface {
	Ping() error
	Disconnect() error
	GetName() string
	GetDatabaseName() string
	GetDriver() any
	Store() (DocumentStore, error)
}

type Datasource struct {
	mu                   sync.RWMutex
	connectors           map[string]Connector // Connectors registered in the datasource. This allows to have multiple connectors for different databases.
	models               map[string]*Model    // Models registered in the datasource.
	connectorByModelName map[string]Connector // Connectors by model name.
}

func NewDatasource(connectors ...Connector) (*Datasource, error) {
	ds := &Datasource{}
	for _, connector := range connectors {
		if err := ds.AddConnector(connector); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func (receiver *Datasource) AddConnector(connector Connector) error {
	if receiver == nil {
		return errors.New("datasource is nil")
	}
	if connector == nil {
		return errors.New("connector is nil")
	}

	receiver.mu.Lock()
	defer receiver.mu.Unlock()

	if receiver.connectors == nil {
		receiver.connectors = make(map[string]Connector)
	}
	receiver.connectors[connector.GetName()] = connector
	return nil
}

func (receiver *Datasource) Destroy() {
	receiver.mu.RLock()
	defer receiver.mu.RUnlock()

	for _, connector := range receiver.connectors {
		if connector != nil {
			_ = connector.Disconnect()
		}
	}
}

// RegisterModel binds model to its connector. A model without a connector
// name uses the only registered connector.
func (receiver *Datasource) RegisterModel(model *Model) error {
	if receiver == nil {
		return errors.New("datasource is nil")
	}
	if err := model.Validate(); err != nil {
		return err
	}

	connector, err := receiver.resolveConnector(model.Connector)
	if err != nil {
		return err
	}

	receiver.mu.Lock()
	defer receiver.mu.Unlock()

	if receiver.models == nil {
		receiver.models = make(map[string]*Model)
		receiver.connectorByModelName = make(map[string]Connector)
	}

	if current := receiver.connectorByModelName[model.Name]; current != nil {
		return errors.Errorf("the model %s is already registered with connector %s", model.Name, current.GetName())
	}

	receiver.models[model.Name] = model
	receiver.connectorByModelName[model.Name] = connector
	return nil
}

func (receiver *Datasource) resolveConnector(name string) (Connector, error) {
	if name != "" {
		return receiver.GetConnector(name)
	}

	receiver.mu.RLock()
	defer receiver.mu.RUnlock()

	if len(receiver.connectors) != 1 {
		return nil, errors.New("a connector name is required when the datasource has more than one connector")
	}
	for _, connector := range receiver.connectors {
		return connector, nil
	}
	return nil, nil
}

func (receiver *Datasource) GetConnector(name string) (Connector, error) {
	if receiver == nil {
		return nil, errors.New("datasource is nil")
	}

	receiver.mu.RLock()
	defer receiver.mu.RUnlock()

	connector, ok := receiver.connectors[name]
	if !ok {
		return nil, errors.Errorf("the connector %s is not registered", name)
	}
	return connector, nil
}

func (receiver *Datasource) GetModelConnector(modelName string) (Connector, error) {
	if receiver == nil {
		return nil, errors.New("datasource is nil")
	}

	receiver.mu.RLock()
	defer receiver.mu.RUnlock()

	connector, ok := receiver.connectorByModelName[modelName]
	if !ok {
		return nil, errors.Errorf("the model %s is not registered", modelName)
	}
	return connector, nil
}

func (receiver *Datasource) GetModel(modelName string) (*Model, error) {
	if receiver == nil {
		return nil, errors.New("datasource is nil")
	}

	receiver.mu.RLock()
	defer receiver.mu.RUnlock()

	model, ok := receiver.models[modelName]
	if !ok {
		return nil, errors.Errorf("the model %s is not registered", modelName)
	}
	return model, nil
}

// StoreFor returns the document store serving model.
func (receiver *Datasource) StoreFor(modelName string) (DocumentStore, error) {
	connector, err := receiver.GetModelConnector(modelName)
	if err != nil {
		return nil, err
	}
	return connector.Store()
}

// EnsureIndexes creates the planned indexes of every registered model whose
// connector manages indexes. plan is keyed by collection.
func (receiver *Datasource) EnsureIndexes(ctx context.Context, plan map[string][]MongoIndexDefinition) error {
	if receiver == nil {
		return errors.New("datasource is nil")
	}

	receiver.mu.RLock()
	models := make([]*Model, 0, len(receiver.models))
	for _, model := range receiver.models {
		models = append(models, model)
	}
	receiver.mu.RUnlock()

	done := map[string]bool{}
	for _, model := range models {
		definitions := plan[model.Collection]
		if len(definitions) == 0 || done[model.Collection] {
			continue
		}
		done[model.Collection] = true

		connector, err := receiver.GetModelConnector(model.Name)
		if err != nil {
			return err
		}

		if mongoConnector, ok := connector.(*MongoConnector); ok {
			if err := mongoConnector.GetIndexManager().EnsureIndexes(ctx, model.Collection, definitions); err != nil {
				return errors.Errorf("failed to ensure indexes for model %s: %w", model.Name, err)
			}
		}
	}
	return nil
}
