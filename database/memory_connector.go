package database

// MemoryConnector serves a MemoryStore through the datasource.
type MemoryConnector struct {
	name  string
	store *MemoryStore
}

func NewMemoryConnector(name string) *MemoryConnector {
	return &MemoryConnector{name: name, store: NewMemoryStore()}
}

func (c *MemoryConnector) Ping() error {
	return nil
}

func (c *MemoryConnector) Disconnect() error {
	return nil
}

func (c *MemoryConnector) GetName() string {
	return c.name
}

func (c *MemoryConnector) GetDatabaseName() string {
	return c.name
}

func (c *MemoryConnector) GetDriver() any {
	return c.store
}

func (c *MemoryConnector) Store() (DocumentStore, error) {
	return c.store, nil
}

// MemoryStore gives tests direct access to the write log.
func (c *MemoryConnector) MemoryStore() *MemoryStore {
	return c.store
}
