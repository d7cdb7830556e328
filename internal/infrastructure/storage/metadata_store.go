package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"slices"
	"sync"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/domain/repository"
	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/errors"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// MetadataStore implements repository.MetadataStore on a KeyValueStore.
//
// Layout: a set of aliases, a set of SSCD ids, one JSON blob per key keyed by
// alias and one per SSCD keyed by id. Mutations are serialized by mu.
type MetadataStore struct {
	kv     repository.KeyValueStore
	logger logger.Logger
	mu     sync.Mutex
}

// NewMetadataStore creates a new MetadataStore.
func NewMetadataStore(kv repository.KeyValueStore, log logger.Logger) *MetadataStore {
	return &MetadataStore{kv: kv, logger: log.WithComponent("MetadataStore")}
}

// ================================================================================
// Keys
// ================================================================================

// PutKey stores key and, when it owns the key, the SSCD descriptor.
func (s *MetadataStore) PutKey(ctx context.Context, key *models.MusapKey, sscd *models.SscdInfo) error {
	if key == nil {
		return errors.ErrMissingParam("key")
	}
	if key.KeyAlias == "" {
		return errors.ErrMissingParam("keyAlias")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putKeyLocked(ctx, key, sscd)
}

// InsertKey stores key like PutKey but fails with keyAlreadyExists when the
// alias is taken. The check and the write happen under one lock.
func (s *MetadataStore) InsertKey(ctx context.Context, key *models.MusapKey, sscd *models.SscdInfo) error {
	if key == nil {
		return errors.ErrMissingParam("key")
	}
	if key.KeyAlias == "" {
		return errors.ErrMissingParam("keyAlias")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.readKey(ctx, key.KeyAlias)
	switch {
	case err == nil:
		return errors.ErrKeyAlreadyExists(key.KeyAlias)
	case !errors.IsCode(err, constants.ErrCodeUnknownKey):
		return err
	}
	return s.putKeyLocked(ctx, key, sscd)
}

func (s *MetadataStore) putKeyLocked(ctx context.Context, key *models.MusapKey, sscd *models.SscdInfo) error {
	if sscd != nil && sscd.HasID() && key.SscdID() == "" {
		if err := key.AssignSscdID(sscd.ID()); err != nil {
			return errors.ErrIllegalArgument(err.Error())
		}
	}

	if err := s.writeJSON(ctx, constants.StoreKeyPrefix+key.KeyAlias, key); err != nil {
		return err
	}
	if err := s.addToSet(ctx, constants.StoreKeyAliases, key.KeyAlias); err != nil {
		return err
	}
	if sscd != nil && sscd.HasID() && sscd.ID() == key.SscdID() {
		if err := s.putSscdLocked(ctx, sscd); err != nil {
			return err
		}
	}

	s.logger.Debug(ctx, "Stored key",
		logger.String("alias", key.KeyAlias),
		logger.String("sscd_id", key.SscdID()),
	)
	return nil
}

// ListKeys returns every stored key.
func (s *MetadataStore) ListKeys(ctx context.Context) ([]*models.MusapKey, error) {
	aliases, err := s.readSet(ctx, constants.StoreKeyAliases)
	if err != nil {
		return nil, err
	}
	keys := make([]*models.MusapKey, 0, len(aliases))
	for _, alias := range aliases {
		key, err := s.readKey(ctx, alias)
		if err != nil {
			if errors.IsCode(err, constants.ErrCodeUnknownKey) {
				s.logger.Warn(ctx, "Alias listed without key data", logger.String("alias", alias))
				continue
			}
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// ListKeysFiltered returns the keys matching req.
func (s *MetadataStore) ListKeysFiltered(ctx context.Context, req models.KeySearchReq) ([]*models.MusapKey, error) {
	keys, err := s.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.MusapKey, 0, len(keys))
	for _, k := range keys {
		if req.Matches(k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// GetKeyByAlias fails with unknownKey when the alias is not stored.
func (s *MetadataStore) GetKeyByAlias(ctx context.Context, alias string) (*models.MusapKey, error) {
	if alias == "" {
		return nil, errors.ErrMissingParam("keyAlias")
	}
	return s.readKey(ctx, alias)
}

func (s *MetadataStore) GetKeyByID(ctx context.Context, keyID string) (*models.MusapKey, error) {
	if keyID == "" {
		return nil, errors.ErrMissingParam("keyId")
	}
	return s.findKey(ctx, keyID, func(k *models.MusapKey) bool { return k.KeyID() == keyID })
}

func (s *MetadataStore) GetKeyByURI(ctx context.Context, uri models.KeyURI) (*models.MusapKey, error) {
	if uri.IsZero() {
		return nil, errors.ErrMissingParam("keyUri")
	}
	return s.findKey(ctx, uri.String(), func(k *models.MusapKey) bool { return k.KeyURI.Equal(uri) })
}

func (s *MetadataStore) GetKeyByPublicKeyHash(ctx context.Context, hash string) (*models.MusapKey, error) {
	if hash == "" {
		return nil, errors.ErrMissingParam("publicKeyHash")
	}
	return s.findKey(ctx, hash, func(k *models.MusapKey) bool { return k.PublicKey.Hash() == hash })
}

func (s *MetadataStore) findKey(ctx context.Context, ref string, match func(*models.MusapKey) bool) (*models.MusapKey, error) {
	keys, err := s.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if match(k) {
			return k, nil
		}
	}
	return nil, errors.ErrUnknownKey(ref)
}

// RemoveKey deletes the key stored under key.KeyAlias.
func (s *MetadataStore) RemoveKey(ctx context.Context, key *models.MusapKey) (bool, error) {
	if key == nil || key.KeyAlias == "" {
		return false, errors.ErrMissingParam("keyAlias")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	aliases, err := s.readSet(ctx, constants.StoreKeyAliases)
	if err != nil {
		return false, err
	}
	if !slices.Contains(aliases, key.KeyAlias) {
		return false, nil
	}
	if err := s.kv.Delete(ctx, constants.StoreKeyPrefix+key.KeyAlias); err != nil {
		return false, errors.ErrInternal("failed to delete key").WithCause(err)
	}
	if err := s.removeFromSet(ctx, constants.StoreKeyAliases, key.KeyAlias); err != nil {
		return false, err
	}
	s.logger.Info(ctx, "Removed key", logger.String("alias", key.KeyAlias))
	return true, nil
}

// ================================================================================
// SSCDs
// ================================================================================

// PutSscd stores an SSCD descriptor. The descriptor must have an id.
func (s *MetadataStore) PutSscd(ctx context.Context, info *models.SscdInfo) error {
	if info == nil {
		return errors.ErrMissingParam("sscd")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putSscdLocked(ctx, info)
}

func (s *MetadataStore) putSscdLocked(ctx context.Context, info *models.SscdInfo) error {
	if !info.HasID() {
		return errors.ErrIllegalArgument(fmt.Sprintf("sscd %q has no id", info.Name))
	}
	if err := s.writeJSON(ctx, constants.StoreSscdPrefix+info.ID(), info); err != nil {
		return err
	}
	return s.addToSet(ctx, constants.StoreKeySscdIDs, info.ID())
}

// GetSscd returns a stored descriptor by id.
func (s *MetadataStore) GetSscd(ctx context.Context, id string) (*models.SscdInfo, error) {
	var info models.SscdInfo
	found, err := s.readJSON(ctx, constants.StoreSscdPrefix+id, &info)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, repository.ErrNotFound
	}
	return &info, nil
}

// listStoredSscds returns every stored descriptor, active or not.
func (s *MetadataStore) listStoredSscds(ctx context.Context) ([]*models.SscdInfo, error) {
	ids, err := s.readSet(ctx, constants.StoreKeySscdIDs)
	if err != nil {
		return nil, err
	}
	out := make([]*models.SscdInfo, 0, len(ids))
	for _, id := range ids {
		info, err := s.GetSscd(ctx, id)
		if err != nil {
			if stderrors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// ListActiveSscds returns the stored SSCDs owning at least one key.
func (s *MetadataStore) ListActiveSscds(ctx context.Context) ([]*models.SscdInfo, error) {
	keys, err := s.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	owners := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k.SscdID() != "" {
			owners[k.SscdID()] = struct{}{}
		}
	}

	stored, err := s.listStoredSscds(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]*models.SscdInfo, 0, len(stored))
	for _, info := range stored {
		if _, ok := owners[info.ID()]; ok {
			active = append(active, info)
		}
	}
	return active, nil
}

// ================================================================================
// Update
// ================================================================================

// UpdateKeyMetadata applies req to the stored key. The owning SSCD must be
// stored; otherwise nothing is written.
func (s *MetadataStore) UpdateKeyMetadata(ctx context.Context, req models.UpdateKeyReq) (bool, error) {
	if req.Key == nil || req.Key.KeyAlias == "" {
		return false, errors.ErrMissingParam("key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.readKey(ctx, req.Key.KeyAlias)
	if err != nil {
		return false, err
	}
	if stored.SscdID() == "" {
		return false, errors.ErrIllegalArgument(fmt.Sprintf("key %q has no owning sscd", stored.KeyAlias))
	}
	if _, err := s.GetSscd(ctx, stored.SscdID()); err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return false, errors.ErrIllegalArgument(fmt.Sprintf("owning sscd %q of key %q not found", stored.SscdID(), stored.KeyAlias))
		}
		return false, err
	}

	updated := stored.Clone()
	oldAlias := stored.KeyAlias
	changed := false

	if req.Alias != nil && *req.Alias != oldAlias {
		if *req.Alias == "" {
			return false, errors.ErrWrongParam("alias must not be empty")
		}
		if _, err := s.readKey(ctx, *req.Alias); err == nil {
			return false, errors.ErrKeyAlreadyExists(*req.Alias)
		}
		updated.KeyAlias = *req.Alias
		updated.KeyURI = updated.KeyURI.With(models.KeyURIName, *req.Alias)
		changed = true
	}
	if req.DID != nil && *req.DID != updated.DID {
		updated.DID = *req.DID
		changed = true
	}
	if req.State != nil && *req.State != updated.State {
		updated.State = *req.State
		changed = true
	}
	for _, attr := range req.Attributes {
		if attr.Value == nil {
			if updated.Attributes.Remove(attr.Name) {
				changed = true
			}
			if models.IsKeyURIAttribute(attr.Name) {
				updated.KeyURI = updated.KeyURI.With(attr.Name, "")
			}
			continue
		}
		if cur, ok := updated.Attributes.Get(attr.Name); !ok || cur != *attr.Value {
			changed = true
		}
		updated.Attributes.Set(attr.Name, *attr.Value)
		if models.IsKeyURIAttribute(attr.Name) {
			updated.KeyURI = updated.KeyURI.With(attr.Name, *attr.Value)
		}
	}

	if !changed {
		return false, nil
	}

	if err := s.writeJSON(ctx, constants.StoreKeyPrefix+updated.KeyAlias, updated); err != nil {
		return false, err
	}
	if updated.KeyAlias != oldAlias {
		if err := s.addToSet(ctx, constants.StoreKeyAliases, updated.KeyAlias); err != nil {
			return false, err
		}
		if err := s.kv.Delete(ctx, constants.StoreKeyPrefix+oldAlias); err != nil {
			return false, errors.ErrInternal("failed to delete renamed key").WithCause(err)
		}
		if err := s.removeFromSet(ctx, constants.StoreKeyAliases, oldAlias); err != nil {
			return false, err
		}
	}

	s.logger.Info(ctx, "Updated key metadata", logger.String("alias", updated.KeyAlias))
	return true, nil
}

// ================================================================================
// Export / Import
// ================================================================================

// Export returns every stored SSCD and key.
func (s *MetadataStore) Export(ctx context.Context) (*models.ImportData, error) {
	sscds, err := s.listStoredSscds(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := s.ListKeys(ctx)
	if err != nil {
		return nil, err
	}

	data := &models.ImportData{
		Sscds: make([]models.SscdInfo, 0, len(sscds)),
		Keys:  make([]models.MusapKey, 0, len(keys)),
	}
	for _, info := range sscds {
		data.Sscds = append(data.Sscds, *info)
	}
	for _, k := range keys {
		data.Keys = append(data.Keys, *k)
	}
	return data, nil
}

// Import merges data into the store. An SSCD is skipped when its id is
// already stored or no backend of its type is enabled locally. A key is
// skipped when a stored key has an equal KeyURI or no backend of its type is
// enabled.
func (s *MetadataStore) Import(ctx context.Context, data *models.ImportData, resolver repository.SscdResolver) error {
	if data == nil {
		return errors.ErrMissingParam("data")
	}
	if resolver == nil {
		return errors.ErrMissingParam("resolver")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	storedIDs, err := s.readSet(ctx, constants.StoreKeySscdIDs)
	if err != nil {
		return err
	}
	for i := range data.Sscds {
		info := &data.Sscds[i]
		if !info.HasID() {
			s.logger.Warn(ctx, "Skipping imported sscd without id", logger.String("name", info.Name))
			continue
		}
		if slices.Contains(storedIDs, info.ID()) {
			s.logger.Debug(ctx, "Skipping imported sscd, id exists", logger.String("sscd_id", info.ID()))
			continue
		}
		if _, ok := resolver.EnabledByType(info.Type); !ok {
			s.logger.Debug(ctx, "Skipping imported sscd, type not enabled", logger.String("sscd_type", info.Type))
			continue
		}
		if err := s.putSscdLocked(ctx, info); err != nil {
			return err
		}
		storedIDs = append(storedIDs, info.ID())
	}

	existing, err := s.ListKeys(ctx)
	if err != nil {
		return err
	}
	for i := range data.Keys {
		key := data.Keys[i].Clone()
		duplicate := slices.ContainsFunc(existing, func(k *models.MusapKey) bool {
			return k.KeyURI.Equal(key.KeyURI)
		})
		if duplicate {
			s.logger.Debug(ctx, "Skipping imported key, key uri exists", logger.String("alias", key.KeyAlias))
			continue
		}
		owner, ok := resolver.EnabledByType(key.SscdType)
		if !ok {
			s.logger.Warn(ctx, "Skipping imported key, sscd type not enabled",
				logger.String("alias", key.KeyAlias), logger.String("sscd_type", key.SscdType))
			continue
		}
		if err := s.putKeyLocked(ctx, key, owner); err != nil {
			return err
		}
		existing = append(existing, key)
	}
	return nil
}

// ================================================================================
// Helpers
// ================================================================================

func (s *MetadataStore) readKey(ctx context.Context, alias string) (*models.MusapKey, error) {
	var key models.MusapKey
	found, err := s.readJSON(ctx, constants.StoreKeyPrefix+alias, &key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.ErrUnknownKey(alias)
	}
	return &key, nil
}

func (s *MetadataStore) readJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, errors.ErrInternal("failed to read metadata").WithCause(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errors.ErrInternal(fmt.Sprintf("corrupt metadata under %s", key)).WithCause(err)
	}
	return true, nil
}

func (s *MetadataStore) writeJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.ErrInternal("failed to marshal metadata").WithCause(err)
	}
	if err := s.kv.Set(ctx, key, data); err != nil {
		return errors.ErrInternal("failed to write metadata").WithCause(err)
	}
	return nil
}

func (s *MetadataStore) readSet(ctx context.Context, key string) ([]string, error) {
	var set []string
	if _, err := s.readJSON(ctx, key, &set); err != nil {
		return nil, err
	}
	return set, nil
}

func (s *MetadataStore) addToSet(ctx context.Context, key, member string) error {
	return s.updateSet(ctx, key, func(set []string) []string {
		if slices.Contains(set, member) {
			return set
		}
		return append(set, member)
	})
}

func (s *MetadataStore) removeFromSet(ctx context.Context, key, member string) error {
	return s.updateSet(ctx, key, func(set []string) []string {
		return slices.DeleteFunc(set, func(m string) bool { return m == member })
	})
}

func (s *MetadataStore) updateSet(ctx context.Context, key string, mutate func([]string) []string) error {
	err := s.kv.Update(ctx, key, func(current []byte, exists bool) ([]byte, error) {
		var set []string
		if exists {
			if err := json.Unmarshal(current, &set); err != nil {
				return nil, fmt.Errorf("corrupt set %s: %w", key, err)
			}
		}
		set = mutate(set)
		if set == nil {
			set = []string{}
		}
		return json.Marshal(set)
	})
	if err != nil {
		return errors.ErrInternal("failed to update metadata set").WithCause(err)
	}
	return nil
}

var _ repository.MetadataStore = (*MetadataStore)(nil)
