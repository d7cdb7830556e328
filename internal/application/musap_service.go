package application

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/domain/service"
	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/errors"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// MusapService is the public entry point of a MUSAP instance. It exposes the
// tasks together with the registry and store queries integrators need.
type MusapService struct {
	*Tasks
	requests *RequestHandler
	logger   logger.Logger
}

// NewMusapService creates a new MusapService.
func NewMusapService(tasks *Tasks, requests *RequestHandler, log logger.Logger) *MusapService {
	return &MusapService{
		Tasks:    tasks,
		requests: requests,
		logger:   log.WithComponent("MusapService"),
	}
}

// ================================================================================
// SSCDs
// ================================================================================

// EnableSscd makes backend available under id.
func (s *MusapService) EnableSscd(ctx context.Context, backend service.Sscd, id string) error {
	return s.registry.Enable(ctx, backend, id)
}

// ListEnabledSscds returns every enabled backend.
func (s *MusapService) ListEnabledSscds() []service.Sscd {
	return s.registry.ListEnabled()
}

// SearchSscds returns the enabled backends matching req exactly.
func (s *MusapService) SearchSscds(req models.SscdSearchReq) []service.Sscd {
	return s.registry.Search(req)
}

// ListActiveSscds returns the descriptors of backends holding at least one key.
func (s *MusapService) ListActiveSscds(ctx context.Context) ([]*models.SscdInfo, error) {
	infos, err := s.registry.ListActive(ctx)
	if err != nil {
		return nil, errors.Translate(err)
	}
	return infos, nil
}

// GetSscd returns the enabled backend with the given id.
func (s *MusapService) GetSscd(id string) (service.Sscd, error) {
	backend, err := s.registry.GetByID(id)
	if err != nil {
		return nil, errors.Translate(err)
	}
	return backend, nil
}

// ================================================================================
// Keys
// ================================================================================

// ListKeys returns the stored keys matching req. The zero request matches all.
func (s *MusapService) ListKeys(ctx context.Context, req models.KeySearchReq) ([]*models.MusapKey, error) {
	keys, err := s.store.ListKeysFiltered(ctx, req)
	if err != nil {
		return nil, errors.Translate(err)
	}
	return keys, nil
}

func (s *MusapService) GetKeyByAlias(ctx context.Context, alias string) (*models.MusapKey, error) {
	key, err := s.store.GetKeyByAlias(ctx, alias)
	return key, errors.Translate(err)
}

func (s *MusapService) GetKeyByID(ctx context.Context, keyID string) (*models.MusapKey, error) {
	key, err := s.store.GetKeyByID(ctx, keyID)
	return key, errors.Translate(err)
}

func (s *MusapService) GetKeyByURI(ctx context.Context, uri models.KeyURI) (*models.MusapKey, error) {
	key, err := s.store.GetKeyByURI(ctx, uri)
	return key, errors.Translate(err)
}

func (s *MusapService) GetKeyByPublicKeyHash(ctx context.Context, hash string) (*models.MusapKey, error) {
	key, err := s.store.GetKeyByPublicKeyHash(ctx, hash)
	return key, errors.Translate(err)
}

// RemoveKey deletes the key stored under alias. It reports false when no such
// key was stored.
func (s *MusapService) RemoveKey(ctx context.Context, alias string) (bool, error) {
	var removed bool
	err := s.run(ctx, TaskRemoveKey, func(ctx context.Context) error {
		key, err := s.store.GetKeyByAlias(ctx, alias)
		if err != nil {
			if errors.IsCode(err, constants.ErrCodeUnknownKey) {
				return nil
			}
			return err
		}
		removed, err = s.store.RemoveKey(ctx, key)
		if err != nil {
			return err
		}
		if removed {
			s.publish(ctx, constants.KeyEventRemoved, key)
		}
		return nil
	}, attribute.String("key.alias", alias))
	return removed, err
}

// UpdateKey changes stored key metadata and reports whether anything changed.
func (s *MusapService) UpdateKey(ctx context.Context, req models.UpdateKeyReq) (bool, error) {
	var changed bool
	err := s.run(ctx, TaskUpdateKey, func(ctx context.Context) error {
		var err error
		changed, err = s.store.UpdateKeyMetadata(ctx, req)
		if err != nil || !changed {
			return err
		}
		alias := req.Key.KeyAlias
		if req.Alias != nil {
			alias = *req.Alias
		}
		if updated, err := s.store.GetKeyByAlias(ctx, alias); err == nil {
			s.publish(ctx, constants.KeyEventUpdated, updated)
		}
		return nil
	})
	return changed, err
}

// Export renders the whole store as JSON.
func (s *MusapService) Export(ctx context.Context) ([]byte, error) {
	var out []byte
	err := s.run(ctx, TaskExport, func(ctx context.Context) error {
		data, err := s.store.Export(ctx)
		if err != nil {
			return err
		}
		out, err = data.ToJSON()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Import merges an exported JSON document into the store. SSCDs are resolved
// against the enabled backends.
func (s *MusapService) Import(ctx context.Context, document []byte) error {
	return s.run(ctx, TaskImport, func(ctx context.Context) error {
		data, err := models.ParseImportData(document)
		if err != nil {
			return errors.ErrWrongParam("invalid import document").WithCause(err)
		}
		if err := s.store.Import(ctx, data, s.registry); err != nil {
			return err
		}
		s.logger.Info(ctx, "Imported metadata",
			logger.Int("sscds", len(data.Sscds)),
			logger.Int("keys", len(data.Keys)),
		)
		return nil
	})
}

// ================================================================================
// Link
// ================================================================================

// HandleSignatureRequest answers one request polled from Link.
func (s *MusapService) HandleSignatureRequest(ctx context.Context, req *models.PollResponse) (*SignatureRequestResult, error) {
	return s.requests.Handle(ctx, req)
}

// ListRelyingParties returns the coupled relying parties.
func (s *MusapService) ListRelyingParties(ctx context.Context) ([]models.RelyingParty, error) {
	var rps []models.RelyingParty
	err := s.run(ctx, TaskListRelyingParties, func(ctx context.Context) error {
		var err error
		rps, err = s.links.ListRelyingParties(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rps, nil
}

// RemoveRelyingParty forgets the relying party with linkID (case-insensitive).
func (s *MusapService) RemoveRelyingParty(ctx context.Context, linkID string) (bool, error) {
	var removed bool
	err := s.run(ctx, TaskRemoveRelyingParty, func(ctx context.Context) error {
		if linkID == "" {
			return errors.ErrMissingParam("linkId")
		}
		var err error
		removed, err = s.links.RemoveRelyingParty(ctx, linkID)
		return err
	}, attribute.String("link.id", linkID))
	return removed, err
}

// GetLink returns the stored Link session, or nil before enrollment.
func (s *MusapService) GetLink(ctx context.Context) (*models.MusapLink, error) {
	link, err := s.links.GetLink(ctx)
	return link, errors.Translate(err)
}
