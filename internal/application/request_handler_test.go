package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/errors"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

func TestHandleSignatureRequest_Sign(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	key := env.generate(t, "link-key")

	refs := map[string]*models.SignaturePayloadKey{
		"by id":    {KeyID: key.KeyID()},
		"by alias": {KeyAlias: "link-key"},
		"by hash":  {PublicKeyHash: key.PublicKey.Hash()},
	}
	for name, ref := range refs {
		t.Run(name, func(t *testing.T) {
			env.link.On("SendSignatureCallback", mock.Anything, mock.AnythingOfType("*models.Signature"), "rp-1", "tx-"+name).
				Return().Once()

			result, err := env.service.HandleSignatureRequest(ctx, &models.PollResponse{
				TransID: "tx-" + name,
				Payload: models.SignaturePayload{
					Data:    b64("document hash"),
					Display: "Sign the contract",
					LinkID:  "rp-1",
					Key:     ref,
					Mode:    constants.ModeSign,
				},
			})
			require.NoError(t, err)
			assert.Equal(t, key.KeyID(), result.Key.KeyID())
			assert.NoError(t, result.Signature.Verify(nil, []byte("document hash")))
		})
	}
	env.link.AssertExpectations(t)
}

func TestHandleSignatureRequest_GenerateOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.link.On("SendGenerateKeyCallback", mock.Anything, mock.AnythingOfType("*models.MusapKey"), mock.Anything, "rp-1", "tx-1").
		Return().Once()

	result, err := env.service.HandleSignatureRequest(ctx, &models.PollResponse{
		TransID: "tx-1",
		Payload: models.SignaturePayload{
			LinkID: "rp-1",
			GenKey: &models.GenKeyPayload{KeyAlias: "rp-key", KeyAlgorithm: models.ECCP384R1.String()},
			Mode:   constants.ModeGenerateOnly,
		},
	})
	require.NoError(t, err)
	assert.Nil(t, result.Signature)
	assert.Equal(t, "rp-key", result.Key.KeyAlias)
	assert.True(t, result.Key.Algorithm.Equal(models.ECCP384R1))

	stored, err := env.service.GetKeyByAlias(ctx, "rp-key")
	require.NoError(t, err)
	assert.Equal(t, "sw-1", stored.SscdID())
	env.link.AssertExpectations(t)
}

func TestHandleSignatureRequest_GenerateSign(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.link.On("SendSignatureCallback", mock.Anything, mock.AnythingOfType("*models.Signature"), "rp-1", "tx-1").
		Return().Once()

	result, err := env.service.HandleSignatureRequest(ctx, &models.PollResponse{
		TransID: "tx-1",
		Payload: models.SignaturePayload{
			Data:     b64("hello"),
			LinkID:   "rp-1",
			Scheme:   "ECDSA",
			HashAlgo: "SHA-256",
			Mode:     constants.ModeGenerateSign,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Signature)
	assert.Equal(t, models.SHA256WithECDSA, result.Signature.Algorithm)
	assert.NoError(t, result.Signature.Verify(nil, []byte("hello")))
	assert.Contains(t, result.Key.KeyAlias, "link-")
	env.link.AssertNotCalled(t, "SendGenerateKeyCallback", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleSignatureRequest_Errors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.generate(t, "k")

	tests := []struct {
		name string
		req  *models.PollResponse
		want constants.ErrorCode
	}{
		{"nil request", nil, constants.ErrCodeMissingParam},
		{"unknown mode", &models.PollResponse{Payload: models.SignaturePayload{Mode: "encrypt"}}, constants.ErrCodeWrongParam},
		{"no key ref", &models.PollResponse{Payload: models.SignaturePayload{Data: b64("x")}}, constants.ErrCodeMissingParam},
		{"unknown key", &models.PollResponse{Payload: models.SignaturePayload{Data: b64("x"), Key: &models.SignaturePayloadKey{KeyAlias: "nope"}}}, constants.ErrCodeUnknownKey},
		{"bad data", &models.PollResponse{Payload: models.SignaturePayload{Data: "%%%", Key: &models.SignaturePayloadKey{KeyAlias: "k"}}}, constants.ErrCodeWrongParam},
		{"empty data", &models.PollResponse{Payload: models.SignaturePayload{Key: &models.SignaturePayloadKey{KeyAlias: "k"}}}, constants.ErrCodeMissingParam},
		{"bad algorithm", &models.PollResponse{Payload: models.SignaturePayload{Mode: constants.ModeGenerateOnly, GenKey: &models.GenKeyPayload{KeyAlgorithm: "DSA/1024"}}}, constants.ErrCodeInvalidAlgorithm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.HandleSignatureRequest(ctx, tt.req)
			assert.True(t, errors.IsCode(err, tt.want), "got %v", err)
		})
	}
	env.link.AssertNotCalled(t, "SendSignatureCallback", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleSignatureRequest_DefaultKeygenNotEnabled(t *testing.T) {
	env := newTestEnv(t)
	handler := NewRequestHandler(env.service.Tasks, "pkcs11", logger.NewNoopLogger())

	_, err := handler.Handle(context.Background(), &models.PollResponse{
		Payload: models.SignaturePayload{Mode: constants.ModeGenerateOnly},
	})
	assert.True(t, errors.IsCode(err, constants.ErrCodeIllegalArgument))
}
