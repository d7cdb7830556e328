package sscd

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/domain/service/mocks"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/storage"
	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/errors"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

func newMockSscd(name, sscdType, country string) *mocks.MockSscd {
	m := new(mocks.MockSscd)
	m.On("Info").Return(&models.SscdInfo{
		Name:                name,
		Type:                sscdType,
		Country:             country,
		Provider:            "Methics",
		SupportedAlgorithms: []models.KeyAlgorithm{models.ECCP256R1, models.RSA2K},
	})
	return m
}

func newTestRegistry() (*Registry, *storage.MetadataStore) {
	store := storage.NewMetadataStore(storage.NewMemoryStore(), logger.NewNoopLogger())
	return NewRegistry(store, logger.NewNoopLogger()), store
}

func TestRegistry_EnableDeduplicatesByName(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry()

	require.NoError(t, reg.Enable(ctx, newMockSscd("Software", "SOFTWARE", "FI"), "sw-1"))
	require.NoError(t, reg.Enable(ctx, newMockSscd("Software", "SOFTWARE", "FI"), "sw-2"))

	enabled := reg.ListEnabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "sw-1", enabled[0].Info().ID())

	err := reg.Enable(ctx, newMockSscd("Vault", "VAULT", "FI"), "")
	assert.True(t, errors.IsCode(err, constants.ErrCodeMissingParam))
}

func TestRegistry_ConcurrentEnable(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reg.Enable(ctx, newMockSscd("Software", "SOFTWARE", "FI"), "sw")
		}()
	}
	wg.Wait()
	assert.Len(t, reg.ListEnabled(), 1)
}

func TestRegistry_Search(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry()
	require.NoError(t, reg.Enable(ctx, newMockSscd("Software", "SOFTWARE", "FI"), "sw-1"))
	require.NoError(t, reg.Enable(ctx, newMockSscd("Vault", "VAULT", "SE"), "vault-1"))

	alg := models.ECCP256R1
	found := reg.Search(models.SscdSearchReq{SscdType: "VAULT", Country: "SE", Provider: "Methics", Algorithm: &alg})
	require.Len(t, found, 1)
	assert.Equal(t, "Vault", found[0].Info().Name)

	assert.Empty(t, reg.Search(models.SscdSearchReq{SscdType: "VAULT", Country: "FI", Provider: "Methics", Algorithm: &alg}))
	assert.Empty(t, reg.Search(models.SscdSearchReq{SscdType: "VAULT"}), "partial request matches nothing")

	p384 := models.ECCP384R1
	assert.Empty(t, reg.Search(models.SscdSearchReq{SscdType: "VAULT", Country: "SE", Provider: "Methics", Algorithm: &p384}))
}

func TestRegistry_Lookup(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry()
	require.NoError(t, reg.Enable(ctx, newMockSscd("Software", "SOFTWARE", "FI"), "sw-1"))

	s, err := reg.GetByID("sw-1")
	require.NoError(t, err)
	assert.Equal(t, "Software", s.Info().Name)

	_, err = reg.GetByID("nope")
	assert.Error(t, err)

	info, ok := reg.EnabledByType("SOFTWARE")
	require.True(t, ok)
	assert.Equal(t, "sw-1", info.ID())
	_, ok = reg.EnabledByType("PKCS11")
	assert.False(t, ok)

	key := models.NewMusapKey("k1", "SOFTWARE", models.ECCP256R1)
	s, err = reg.ForKey(key)
	require.NoError(t, err)
	assert.Equal(t, "sw-1", s.Info().ID())

	_, err = reg.ForKey(models.NewMusapKey("k2", "PKCS11", models.ECCP256R1))
	assert.True(t, errors.IsCode(err, constants.ErrCodeUnknownKey))
}

func TestRegistry_ListActive(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry()
	sw := newMockSscd("Software", "SOFTWARE", "FI")
	vault := newMockSscd("Vault", "VAULT", "FI")
	require.NoError(t, reg.Enable(ctx, sw, "sw-1"))
	require.NoError(t, reg.Enable(ctx, vault, "vault-1"))

	active, err := reg.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	key := models.NewMusapKey("k1", "SOFTWARE", models.ECCP256R1)
	require.NoError(t, store.PutKey(ctx, key, sw.Info()))

	active, err = reg.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "sw-1", active[0].ID())
}
