// Package sscd holds the registry of signing backends available to this
// MUSAP instance.
package sscd

import (
	"context"
	"fmt"
	"sync"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/domain/repository"
	"github.com/methics/musap-ios-sub000/internal/domain/service"
	"github.com/methics/musap-ios-sub000/pkg/errors"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// Registry is the set of enabled backends. Active backends, the ones owning
// at least one stored key, are read from the metadata store.
type Registry struct {
	mu      sync.RWMutex
	enabled []service.Sscd
	store   repository.MetadataStore
	logger  logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(store repository.MetadataStore, log logger.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: log.WithComponent("SscdRegistry"),
	}
}

// Enable adds sscd under id. Enabling a backend whose name is already enabled
// is a no-op.
func (r *Registry) Enable(ctx context.Context, sscd service.Sscd, id string) error {
	if sscd == nil || sscd.Info() == nil {
		return errors.ErrMissingParam("sscd")
	}
	if id == "" {
		return errors.ErrMissingParam("sscdId")
	}
	info := sscd.Info()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.enabled {
		if s.Info().Name == info.Name {
			r.logger.Debug(ctx, "SSCD already enabled", logger.String("name", info.Name))
			return nil
		}
	}
	if err := info.AssignID(id); err != nil {
		return errors.ErrIllegalArgument(err.Error())
	}
	r.enabled = append(r.enabled, sscd)
	r.logger.Info(ctx, "Enabled SSCD",
		logger.String("name", info.Name),
		logger.String("type", info.Type),
		logger.String("sscd_id", id),
	)
	return nil
}

// ListEnabled returns every enabled backend in enable order.
func (r *Registry) ListEnabled() []service.Sscd {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]service.Sscd, len(r.enabled))
	copy(out, r.enabled)
	return out
}

// ListActive returns the descriptors of backends that own stored keys.
func (r *Registry) ListActive(ctx context.Context) ([]*models.SscdInfo, error) {
	return r.store.ListActiveSscds(ctx)
}

// Search returns the enabled backends matching req. An incomplete request
// matches nothing.
func (r *Registry) Search(req models.SscdSearchReq) []service.Sscd {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []service.Sscd
	for _, s := range r.enabled {
		if req.Matches(s.Info()) {
			out = append(out, s)
		}
	}
	return out
}

// GetByID returns the enabled backend with the given id.
func (r *Registry) GetByID(id string) (service.Sscd, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.enabled {
		if s.Info().ID() == id {
			return s, nil
		}
	}
	return nil, errors.ErrIllegalArgument(fmt.Sprintf("no enabled sscd with id %q", id))
}

// GetByType returns the first enabled backend of sscdType.
func (r *Registry) GetByType(sscdType string) (service.Sscd, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.enabled {
		if s.Info().Type == sscdType {
			return s, true
		}
	}
	return nil, false
}

// EnabledByType resolves the owner for imported keys.
func (r *Registry) EnabledByType(sscdType string) (*models.SscdInfo, bool) {
	s, ok := r.GetByType(sscdType)
	if !ok {
		return nil, false
	}
	return s.Info(), true
}

// ForKey returns the enabled backend owning key: by sscd id when assigned,
// otherwise by type.
func (r *Registry) ForKey(key *models.MusapKey) (service.Sscd, error) {
	if key == nil {
		return nil, errors.ErrMissingParam("key")
	}
	if key.SscdID() != "" {
		if s, err := r.GetByID(key.SscdID()); err == nil {
			return s, nil
		}
	}
	if s, ok := r.GetByType(key.SscdType); ok {
		return s, nil
	}
	return nil, errors.ErrUnknownKey(fmt.Sprintf("no enabled sscd for key %q", key.KeyAlias))
}

var _ repository.SscdResolver = (*Registry)(nil)
