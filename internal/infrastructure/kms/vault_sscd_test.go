package kms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/methics/musap-ios-sub000/internal/config"
	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/errors"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// fakeVault serves the KV v2 data endpoints of one mount from memory.
type fakeVault struct {
	mu      sync.Mutex
	mount   string
	secrets map[string]map[string]interface{}
	reads   map[string]int
}

func newFakeVault(mount string) *fakeVault {
	return &fakeVault{
		mount:   mount,
		secrets: make(map[string]map[string]interface{}),
		reads:   make(map[string]int),
	}
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := "/v1/" + f.mount + "/data/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, prefix)
	metadata := map[string]interface{}{
		"created_time":  "2024-01-01T00:00:00Z",
		"deletion_time": "",
		"destroyed":     false,
		"version":       1,
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		f.reads[path]++
		data, ok := f.secrets[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"data": data, "metadata": metadata},
		})
	case http.MethodPut, http.MethodPost:
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.secrets[path] = body.Data
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": metadata})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeVault) readCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[path]
}

func newTestVaultSscd(t *testing.T) (*VaultSscd, *fakeVault) {
	fake := newFakeVault("secret")
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	cfg := config.VaultConfig{Address: ts.URL, Token: "test-token", MountPath: "secret"}
	client, err := NewVaultClient(cfg)
	require.NoError(t, err)
	return NewVaultSscd(cfg, client, logger.NewNoopLogger()), fake
}

func TestVaultSscd_GenerateAndSign(t *testing.T) {
	ctx := context.Background()
	sscd, fake := newTestVaultSscd(t)

	key, err := sscd.GenerateKey(ctx, models.KeyGenReq{KeyAlias: "vault-key", Algorithm: models.ECCP256R1})
	require.NoError(t, err)
	assert.Equal(t, TypeVault, key.SscdType)

	stored, ok := fake.secrets["musap/keys/"+key.KeyID()]
	require.True(t, ok, "private key should be written to vault")
	assert.NotEmpty(t, stored["key"])
	assert.Equal(t, key.KeyID(), fake.secrets["musap/aliases/vault-key"]["keyid"])

	sig, err := sscd.Sign(ctx, models.SignatureReq{Key: key, Data: []byte("payload")})
	require.NoError(t, err)
	assert.NoError(t, sig.Verify(nil, []byte("payload")))

	_, err = sscd.GenerateKey(ctx, models.KeyGenReq{KeyAlias: "vault-key", Algorithm: models.ECCP256R1})
	assert.True(t, errors.IsCode(err, constants.ErrCodeKeyAlreadyExists))
}

func TestVaultSscd_BindKey(t *testing.T) {
	ctx := context.Background()
	sscd, fake := newTestVaultSscd(t)

	generated, err := sscd.GenerateKey(ctx, models.KeyGenReq{KeyAlias: "existing", Algorithm: models.ECCP384R1})
	require.NoError(t, err)
	sscd.signers.Flush()

	bound, err := sscd.BindKey(ctx, models.KeyBindReq{KeyAlias: "existing", DID: "did:example:1"})
	require.NoError(t, err)
	assert.Equal(t, generated.KeyID(), bound.KeyID())
	assert.True(t, bound.Algorithm.Equal(models.ECCP384R1))
	assert.Equal(t, generated.PublicKey.DER, bound.PublicKey.DER)
	assert.Equal(t, "did:example:1", bound.DID)
	assert.Equal(t, 1, fake.readCount("musap/keys/"+generated.KeyID()))

	_, err = sscd.BindKey(ctx, models.KeyBindReq{KeyAlias: "missing"})
	assert.True(t, errors.IsCode(err, constants.ErrCodeUnknownKey))
}

func TestVaultSscd_ConcurrentSign(t *testing.T) {
	ctx := context.Background()
	sscd, fake := newTestVaultSscd(t)

	key, err := sscd.GenerateKey(ctx, models.KeyGenReq{KeyAlias: "shared", Algorithm: models.ECCP256R1})
	require.NoError(t, err)
	sscd.signers.Flush()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sscd.Sign(ctx, models.SignatureReq{Key: key, Data: []byte("x")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, fake.readCount("musap/keys/"+key.KeyID()), 10)
	assert.GreaterOrEqual(t, fake.readCount("musap/keys/"+key.KeyID()), 1)

	unknown := models.NewMusapKey("ghost", TypeVault, models.ECCP256R1)
	require.NoError(t, unknown.AssignKeyID("nope"))
	_, err = sscd.Sign(ctx, models.SignatureReq{Key: unknown, Data: []byte("x")})
	assert.True(t, errors.IsCode(err, constants.ErrCodeUnknownKey))
}
