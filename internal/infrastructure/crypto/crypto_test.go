package crypto

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/storage"
	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

func TestMAC_GenerateValidate(t *testing.T) {
	key := []byte("testKey")
	mac := GenerateMAC(key, "testMessage", "testIV", "testTransId", "testType")

	assert.Len(t, mac, 64)
	assert.True(t, ValidateMAC(key, "testMessage", "testIV", "testTransId", "testType", mac))
	assert.False(t, ValidateMAC(key, "testMessage", "testIV", "testTransId", "otherType", mac))
}

func TestMAC_EmptyTransID(t *testing.T) {
	key := []byte("testKey")
	mac := GenerateMAC(key, "payload", "iv", "", "getdata")
	assert.True(t, ValidateMAC(key, "payload", "iv", "", "getdata", mac))
}

func flipBit(s string, i int) string {
	b := []byte(s)
	b[i%len(b)] ^= 0x01
	return string(b)
}

func TestMAC_SingleBitMutation(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	payload, iv, transID, typ := "cGF5bG9hZA==", "aXZpdml2aXZpdml2aXY=", "tx-1", "externalsignature"
	mac := GenerateMAC(key, payload, iv, transID, typ)
	require.True(t, ValidateMAC(key, payload, iv, transID, typ, mac))

	for i := 0; i < 8; i++ {
		assert.False(t, ValidateMAC(key, flipBit(payload, i), iv, transID, typ, mac), "payload bit %d", i)
		assert.False(t, ValidateMAC(key, payload, flipBit(iv, i), transID, typ, mac), "iv bit %d", i)
		assert.False(t, ValidateMAC(key, payload, iv, flipBit(transID, i), typ, mac), "transid bit %d", i)
		assert.False(t, ValidateMAC(key, payload, iv, transID, flipBit(typ, i), mac), "type bit %d", i)
	}

	raw, err := hex.DecodeString(mac)
	require.NoError(t, err)
	raw[0] ^= 0x80
	assert.False(t, ValidateMAC(key, payload, iv, transID, typ, hex.EncodeToString(raw)))
	assert.False(t, ValidateMAC(key, payload, iv, transID, typ, "not hex"))
}

func TestCipher_RoundTrip(t *testing.T) {
	for _, keyLen := range []int{16, 32} {
		key := bytes.Repeat([]byte{0x42}, keyLen)
		for _, n := range []int{0, 1, 15, 16, 17, 32, 100} {
			plain := bytes.Repeat([]byte{'a'}, n)
			ct, iv, err := Encrypt(key, plain, nil)
			require.NoError(t, err)
			assert.Len(t, iv, 16)
			assert.Zero(t, len(ct)%16)

			got, err := Decrypt(key, ct, iv)
			require.NoError(t, err)
			assert.Equal(t, plain, got, "key %d, length %d", keyLen, n)
		}
	}
}

func TestCipher_SuppliedIV(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 16)
	iv := bytes.Repeat([]byte{2}, 16)
	ct1, used, err := Encrypt(key, []byte("hello"), iv)
	require.NoError(t, err)
	assert.Equal(t, iv, used)
	ct2, _, err := Encrypt(key, []byte("hello"), iv)
	require.NoError(t, err)
	assert.Equal(t, ct1, ct2)
}

func TestCipher_WrongIV(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	plain := []byte("a message spanning more than one AES block")
	ct, iv, err := Encrypt(key, plain, nil)
	require.NoError(t, err)

	wrong := bytes.Clone(iv)
	wrong[0] ^= 0xff
	assert.NotPanics(t, func() {
		got, err := Decrypt(key, ct, wrong)
		if err == nil {
			assert.NotEqual(t, plain, got)
		}
	})
}

func TestCipher_InvalidInput(t *testing.T) {
	_, _, err := Encrypt(make([]byte, 24), []byte("x"), nil)
	assert.Error(t, err)
	_, err = Decrypt(make([]byte, 16), make([]byte, 16), nil)
	assert.Error(t, err)
	_, err = Decrypt(make([]byte, 16), make([]byte, 15), make([]byte, 16))
	assert.Error(t, err)
	_, err = DecryptBase64(make([]byte, 16), "%%%", "AAAAAAAAAAAAAAAAAAAAAA==")
	assert.Error(t, err)
}

func TestCipher_Base64(t *testing.T) {
	key := bytes.Repeat([]byte{9}, 16)
	payload, iv, err := EncryptBase64(key, []byte(`{"a":1}`))
	require.NoError(t, err)
	got, err := DecryptBase64(key, payload, iv)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))
}

func newTestKeyGenerator(t *testing.T, transportLen int) (*KeyGenerator, *storage.SecretStore) {
	t.Helper()
	secrets := storage.NewSecretStore(storage.NewMemoryStore())
	gen, err := NewKeyGenerator(secrets, transportLen, logger.NewNoopLogger())
	require.NoError(t, err)
	return gen, secrets
}

func TestKeyGenerator_HkdfStatic(t *testing.T) {
	ctx := context.Background()
	gen, _ := newTestKeyGenerator(t, 32)

	_, err := gen.MacKey(ctx)
	assert.True(t, errors.Is(err, ErrNoTransportKeys))

	secretB64, err := gen.HkdfStatic(ctx)
	require.NoError(t, err)
	secret, err := base64.StdEncoding.DecodeString(secretB64)
	require.NoError(t, err)
	assert.Len(t, secret, constants.EnrollmentSecretLength)

	macKey, err := gen.MacKey(ctx)
	require.NoError(t, err)
	assert.Len(t, macKey, constants.MacKeyLength)
	transportKey, err := gen.TransportKey(ctx)
	require.NoError(t, err)
	assert.Len(t, transportKey, 32)
	assert.NotEqual(t, macKey, transportKey)

	expected, err := Derive(secret, macKeyInfo, constants.MacKeyLength)
	require.NoError(t, err)
	assert.Equal(t, expected, macKey)
}

func TestKeyGenerator_InvalidLength(t *testing.T) {
	_, err := NewKeyGenerator(storage.NewSecretStore(storage.NewMemoryStore()), 24, logger.NewNoopLogger())
	assert.Error(t, err)
}

func TestEnvelope_SealOpen(t *testing.T) {
	ctx := context.Background()
	gen, _ := newTestKeyGenerator(t, 16)
	_, err := gen.HkdfStatic(ctx)
	require.NoError(t, err)
	env := NewEnvelope(gen)

	msg := &models.MusapMessage{Type: constants.MessageTypeExternalSignature, TransID: "tx-9"}
	require.NoError(t, env.Seal(ctx, msg, []byte(`{"data":"abc"}`)))
	assert.NotEmpty(t, msg.IV)
	assert.NotEmpty(t, msg.Mac)

	plain, err := env.Open(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, `{"data":"abc"}`, string(plain))

	tampered := *msg
	tampered.TransID = "tx-10"
	_, err = env.Open(ctx, &tampered)
	assert.True(t, errors.Is(err, ErrInvalidMAC))
}

func TestEnvelope_EnrollIsPlain(t *testing.T) {
	ctx := context.Background()
	gen, _ := newTestKeyGenerator(t, 16)
	env := NewEnvelope(gen)

	msg := &models.MusapMessage{Type: constants.MessageTypeEnroll}
	require.NoError(t, env.Seal(ctx, msg, []byte(`{"secret":"x"}`)))
	assert.Empty(t, msg.Mac)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(`{"secret":"x"}`)), msg.Payload)

	plain, err := env.Open(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, `{"secret":"x"}`, string(plain))
}

func TestEnvelope_NotEnrolled(t *testing.T) {
	gen, _ := newTestKeyGenerator(t, 16)
	env := NewEnvelope(gen)
	err := env.Seal(context.Background(), &models.MusapMessage{Type: constants.MessageTypePoll}, []byte("{}"))
	assert.True(t, errors.Is(err, ErrNoTransportKeys))
}
