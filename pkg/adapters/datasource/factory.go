package datasource

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// AdapterFactory creates connections and account adapters from the registry.
type AdapterFactory interface {
	// NewConnection creates an unopened connection to the instance.
	NewConnection(instance *models.Instance) (Connection, error)

	// NewAccountAdapter returns the account adapter for the engine family.
	NewAccountAdapter(dbType models.DBType) (AccountAdapter, error)

	// ListTypes returns info for all registered engines.
	ListTypes() []AdapterInfo
}

type registryFactory struct {
	registry *Registry
	logger   *zap.Logger
}

func NewAdapterFactory(registry *Registry, logger *zap.Logger) AdapterFactory {
	return &registryFactory{
		registry: registry,
		logger:   logger,
	}
}

func (f *registryFactory) NewConnection(instance *models.Instance) (Connection, error) {
	reg, err := f.registry.Lookup(instance.DBType)
	if err != nil {
		return nil, err
	}
	if instance.Credential == nil {
		return nil, fmt.Errorf("instance %d has no credential", instance.ID)
	}
	return reg.NewConnection(instance, f.logger)
}

func (f *registryFactory) NewAccountAdapter(dbType models.DBType) (AccountAdapter, error) {
	reg, err := f.registry.Lookup(dbType)
	if err != nil {
		return nil, err
	}
	return reg.NewAccountAdapter(f.logger), nil
}

func (f *registryFactory) ListTypes() []AdapterInfo {
	return f.registry.RegisteredAdapters()
}

// Ensure registryFactory implements AdapterFactory at compile time.
var _ AdapterFactory = (*registryFactory)(nil)
