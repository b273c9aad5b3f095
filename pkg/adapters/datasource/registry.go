package datasource

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
)

// Registration contains info + constructors for one engine family.
type Registration struct {
	Info              AdapterInfo
	NewConnection     func(instance *models.Instance, logger *zap.Logger) (Connection, error)
	NewAccountAdapter func(logger *zap.Logger) AccountAdapter
}

// Registry is a fixed lookup table from db_type to its registration.
// It is built once at startup and never mutated.
type Registry struct {
	entries map[models.DBType]Registration
}

func NewRegistry(regs ...Registration) *Registry {
	r := &Registry{entries: make(map[models.DBType]Registration, len(regs))}
	for _, reg := range regs {
		r.entries[reg.Info.DBType] = reg
	}
	return r
}

// Lookup returns the registration for dbType or ErrUnsupportedDBType.
func (r *Registry) Lookup(dbType models.DBType) (Registration, error) {
	reg, ok := r.entries[dbType]
	if !ok {
		return Registration{}, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedDBType, dbType)
	}
	return reg, nil
}

// RegisteredAdapters returns info for all registered engines in a stable order.
func (r *Registry) RegisteredAdapters() []AdapterInfo {
	result := make([]AdapterInfo, 0, len(r.entries))
	for _, t := range models.SupportedDBTypes {
		if reg, ok := r.entries[t]; ok {
			result = append(result, reg.Info)
		}
	}
	return result
}

// IsRegistered checks if an engine is available.
func (r *Registry) IsRegistered(dbType models.DBType) bool {
	_, ok := r.entries[dbType]
	return ok
}
