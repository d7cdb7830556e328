package kms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/internal/infrastructure/storage"
	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/errors"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

func newTestSoftwareSscd() (*SoftwareSscd, *storage.SecretStore) {
	secrets := storage.NewSecretStore(storage.NewMemoryStore())
	return NewSoftwareSscd(secrets, logger.NewNoopLogger()), secrets
}

func TestSoftwareSscd_GenerateAndSign(t *testing.T) {
	ctx := context.Background()
	sscd, _ := newTestSoftwareSscd()

	tests := []struct {
		name string
		alg  models.KeyAlgorithm
		want models.SignatureAlgorithm
	}{
		{"p256", models.ECCP256R1, models.SHA256WithECDSA},
		{"p384", models.ECCP384R1, models.SHA384WithECDSA},
		{"rsa2048", models.RSA2K, models.SHA256WithRSA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := sscd.GenerateKey(ctx, models.KeyGenReq{
				KeyAlias:   "key-" + tt.name,
				Algorithm:  tt.alg,
				Attributes: []models.KeyAttribute{{Name: "MSISDN", Value: "35847001001"}},
			})
			require.NoError(t, err)
			assert.NotEmpty(t, key.KeyID())
			assert.Equal(t, TypeSoftware, key.SscdType)
			assert.Equal(t, "35847001001", key.Attributes.Value("msisdn"))
			require.NotNil(t, key.PublicKey)

			data := []byte("data to be signed")
			sig, err := sscd.Sign(ctx, models.SignatureReq{Key: key, Data: data})
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig.Algorithm)
			assert.Equal(t, models.FormatRAW, sig.Format)
			assert.NoError(t, sig.Verify(nil, data))
			assert.Error(t, sig.Verify(nil, []byte("other data")))
		})
	}
}

func TestSoftwareSscd_KeysSurviveRestart(t *testing.T) {
	ctx := context.Background()
	sscd, secrets := newTestSoftwareSscd()

	key, err := sscd.GenerateKey(ctx, models.KeyGenReq{KeyAlias: "persisted", Algorithm: models.ECCP256R1})
	require.NoError(t, err)

	restarted := NewSoftwareSscd(secrets, logger.NewNoopLogger())
	sig, err := restarted.Sign(ctx, models.SignatureReq{Key: key, Data: []byte("hello")})
	require.NoError(t, err)
	assert.NoError(t, sig.Verify(nil, []byte("hello")))
}

func TestSoftwareSscd_Errors(t *testing.T) {
	ctx := context.Background()
	sscd, _ := newTestSoftwareSscd()

	_, err := sscd.BindKey(ctx, models.KeyBindReq{KeyAlias: "k"})
	assert.True(t, errors.IsCode(err, constants.ErrCodeBindUnsupported))

	_, err = sscd.GenerateKey(ctx, models.KeyGenReq{KeyAlias: "k", Algorithm: models.KeyAlgorithm{Primitive: models.PrimitiveEC, Curve: "secp521r1", Bits: 521}})
	assert.True(t, errors.IsCode(err, constants.ErrCodeInvalidAlgorithm))

	_, err = sscd.GenerateKey(ctx, models.KeyGenReq{Algorithm: models.ECCP256R1})
	assert.True(t, errors.IsCode(err, constants.ErrCodeMissingParam))

	key, err := sscd.GenerateKey(ctx, models.KeyGenReq{KeyAlias: "k", Algorithm: models.ECCP256R1})
	require.NoError(t, err)

	_, err = sscd.Sign(ctx, models.SignatureReq{Key: key, Data: []byte("x"), Algorithm: models.SHA256WithRSA})
	assert.True(t, errors.IsCode(err, constants.ErrCodeInvalidAlgorithm))

	_, err = sscd.Sign(ctx, models.SignatureReq{Key: key, Data: []byte("x"), Format: models.FormatCMS})
	assert.True(t, errors.IsCode(err, constants.ErrCodeUnsupportedData))

	_, err = sscd.Sign(ctx, models.SignatureReq{Key: key})
	assert.True(t, errors.IsCode(err, constants.ErrCodeMissingParam))

	unknown := models.NewMusapKey("ghost", TypeSoftware, models.ECCP256R1)
	require.NoError(t, unknown.AssignKeyID("no-such-key"))
	_, err = sscd.Sign(ctx, models.SignatureReq{Key: unknown, Data: []byte("x")})
	assert.True(t, errors.IsCode(err, constants.ErrCodeUnknownKey))
}
