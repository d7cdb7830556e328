package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"slices"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/domain/repository"
	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/errors"
)

// LinkStore keeps the Link session, the MUSAP id and the relying parties.
type LinkStore struct {
	kv repository.KeyValueStore
}

// NewLinkStore creates a new LinkStore.
func NewLinkStore(kv repository.KeyValueStore) *LinkStore {
	return &LinkStore{kv: kv}
}

// GetLink returns the stored session or nil when none is stored.
func (s *LinkStore) GetLink(ctx context.Context) (*models.MusapLink, error) {
	data, err := s.kv.Get(ctx, constants.StoreLink)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.ErrInternal("failed to read link").WithCause(err)
	}
	var link models.MusapLink
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, errors.ErrInternal("corrupt link data").WithCause(err)
	}
	return &link, nil
}

// PutLink stores the session and, once enrolled, its MUSAP id.
func (s *LinkStore) PutLink(ctx context.Context, link *models.MusapLink) error {
	if link == nil {
		return errors.ErrMissingParam("link")
	}
	data, err := json.Marshal(link)
	if err != nil {
		return errors.ErrInternal("failed to marshal link").WithCause(err)
	}
	if err := s.kv.Set(ctx, constants.StoreLink, data); err != nil {
		return errors.ErrInternal("failed to store link").WithCause(err)
	}
	if link.MusapID != "" {
		if err := s.kv.Set(ctx, constants.StoreMusapID, []byte(link.MusapID)); err != nil {
			return errors.ErrInternal("failed to store musap id").WithCause(err)
		}
	}
	return nil
}

// GetMusapID returns the assigned MUSAP id or "".
func (s *LinkStore) GetMusapID(ctx context.Context) (string, error) {
	data, err := s.kv.Get(ctx, constants.StoreMusapID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return "", nil
		}
		return "", errors.ErrInternal("failed to read musap id").WithCause(err)
	}
	return string(data), nil
}

// ListRelyingParties returns the coupled relying parties.
func (s *LinkStore) ListRelyingParties(ctx context.Context) ([]models.RelyingParty, error) {
	data, err := s.kv.Get(ctx, constants.StoreRelyingParties)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return []models.RelyingParty{}, nil
		}
		return nil, errors.ErrInternal("failed to read relying parties").WithCause(err)
	}
	var rps []models.RelyingParty
	if err := json.Unmarshal(data, &rps); err != nil {
		return nil, errors.ErrInternal("corrupt relying party data").WithCause(err)
	}
	return rps, nil
}

// AddRelyingParty stores rp, replacing an entry with the same link id.
func (s *LinkStore) AddRelyingParty(ctx context.Context, rp models.RelyingParty) error {
	if rp.LinkID == "" {
		return errors.ErrMissingParam("linkId")
	}
	return s.updateRelyingParties(ctx, func(rps []models.RelyingParty) ([]models.RelyingParty, bool) {
		rps = slices.DeleteFunc(rps, func(r models.RelyingParty) bool { return r.Matches(rp.LinkID) })
		return append(rps, rp), true
	})
}

// RemoveRelyingParty removes every relying party whose link id matches.
func (s *LinkStore) RemoveRelyingParty(ctx context.Context, linkID string) (bool, error) {
	if linkID == "" {
		return false, errors.ErrMissingParam("linkId")
	}
	removed := false
	err := s.updateRelyingParties(ctx, func(rps []models.RelyingParty) ([]models.RelyingParty, bool) {
		before := len(rps)
		rps = slices.DeleteFunc(rps, func(r models.RelyingParty) bool { return r.Matches(linkID) })
		removed = len(rps) != before
		return rps, removed
	})
	return removed, err
}

func (s *LinkStore) updateRelyingParties(ctx context.Context, mutate func([]models.RelyingParty) ([]models.RelyingParty, bool)) error {
	err := s.kv.Update(ctx, constants.StoreRelyingParties, func(current []byte, exists bool) ([]byte, error) {
		var rps []models.RelyingParty
		if exists {
			if err := json.Unmarshal(current, &rps); err != nil {
				return nil, fmt.Errorf("corrupt relying party data: %w", err)
			}
		}
		next, changed := mutate(rps)
		if !changed && exists {
			return current, nil
		}
		if next == nil {
			next = []models.RelyingParty{}
		}
		return json.Marshal(next)
	})
	if err != nil {
		return errors.ErrInternal("failed to update relying parties").WithCause(err)
	}
	return nil
}

// SecretStore keeps enrollment secrets under a fixed prefix.
type SecretStore struct {
	kv repository.KeyValueStore
}

const secretPrefix = "secret_"

// NewSecretStore creates a new SecretStore.
func NewSecretStore(kv repository.KeyValueStore) *SecretStore {
	return &SecretStore{kv: kv}
}

func (s *SecretStore) PutSecret(ctx context.Context, name string, value []byte) error {
	if err := s.kv.Set(ctx, secretPrefix+name, value); err != nil {
		return fmt.Errorf("failed to store secret %s: %w", name, err)
	}
	return nil
}

// GetSecret returns repository.ErrNotFound for an unknown secret.
func (s *SecretStore) GetSecret(ctx context.Context, name string) ([]byte, error) {
	v, err := s.kv.Get(ctx, secretPrefix+name)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read secret %s: %w", name, err)
	}
	return v, nil
}

var (
	_ repository.LinkStore   = (*LinkStore)(nil)
	_ repository.SecretStore = (*SecretStore)(nil)
)
