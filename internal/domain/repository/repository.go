package repository

import (
	"context"
	"errors"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
)

// ErrNotFound is returned by a KeyValueStore for a missing key.
var ErrNotFound = errors.New("not found")

// KeyValueStore is the persistence engine underneath the metadata, link and
// secret stores. Values are opaque bytes.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Update performs an atomic read-modify-write of one key. fn receives the
	// current value (nil, false when absent) and returns the new value; a nil
	// return deletes the key.
	Update(ctx context.Context, key string, fn func(current []byte, exists bool) ([]byte, error)) error

	Close() error
}

// SscdResolver resolves locally enabled backends by type. The SSCD registry
// implements it.
type SscdResolver interface {
	EnabledByType(sscdType string) (*models.SscdInfo, bool)
}

// MetadataStore persists keys and the descriptors of the SSCDs holding them.
type MetadataStore interface {
	// PutKey stores key under its alias and records sscd as active.
	PutKey(ctx context.Context, key *models.MusapKey, sscd *models.SscdInfo) error
	// InsertKey is PutKey that fails with keyAlreadyExists instead of
	// replacing a stored alias.
	InsertKey(ctx context.Context, key *models.MusapKey, sscd *models.SscdInfo) error

	ListKeys(ctx context.Context) ([]*models.MusapKey, error)
	ListKeysFiltered(ctx context.Context, req models.KeySearchReq) ([]*models.MusapKey, error)

	GetKeyByAlias(ctx context.Context, alias string) (*models.MusapKey, error)
	GetKeyByID(ctx context.Context, keyID string) (*models.MusapKey, error)
	GetKeyByURI(ctx context.Context, uri models.KeyURI) (*models.MusapKey, error)
	GetKeyByPublicKeyHash(ctx context.Context, hash string) (*models.MusapKey, error)

	// RemoveKey deletes key and reports whether it existed.
	RemoveKey(ctx context.Context, key *models.MusapKey) (bool, error)

	PutSscd(ctx context.Context, info *models.SscdInfo) error

	// ListActiveSscds returns the stored SSCDs that hold at least one key.
	ListActiveSscds(ctx context.Context) ([]*models.SscdInfo, error)

	// UpdateKeyMetadata applies req and reports whether anything changed.
	UpdateKeyMetadata(ctx context.Context, req models.UpdateKeyReq) (bool, error)

	Export(ctx context.Context) (*models.ImportData, error)
	Import(ctx context.Context, data *models.ImportData, resolver SscdResolver) error
}

// LinkStore persists the Link session and coupled relying parties.
type LinkStore interface {
	GetLink(ctx context.Context) (*models.MusapLink, error)
	PutLink(ctx context.Context, link *models.MusapLink) error
	GetMusapID(ctx context.Context) (string, error)

	ListRelyingParties(ctx context.Context) ([]models.RelyingParty, error)
	AddRelyingParty(ctx context.Context, rp models.RelyingParty) error
	// RemoveRelyingParty matches linkID case-insensitively.
	RemoveRelyingParty(ctx context.Context, linkID string) (bool, error)
}

// SecretStore holds the transport secrets established at enrollment.
type SecretStore interface {
	PutSecret(ctx context.Context, name string, value []byte) error
	GetSecret(ctx context.Context, name string) ([]byte, error)
}
