package errors_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/errors"
)

func TestErrorCodesAreStable(t *testing.T) {
	cases := map[constants.ErrorCode]errors.MusapError{
		101: errors.ErrWrongParam("x"),
		102: errors.ErrMissingParam("alias"),
		103: errors.ErrInvalidAlgorithm("DSA"),
		105: errors.ErrUnknownKey("k"),
		106: errors.ErrKeyAlreadyExists("k"),
		107: errors.ErrUnsupportedData("x"),
		108: errors.ErrKeygenUnsupported("s"),
		109: errors.ErrBindUnsupported("s"),
		208: errors.ErrTimedOut("sign"),
		401: errors.ErrUserCancel(),
		402: errors.ErrKeyBlocked("k"),
		403: errors.ErrSscdBlocked("s"),
		404: errors.ErrSscdAlreadyExists("s"),
		900: errors.ErrInternal("x"),
	}
	for code, err := range cases {
		assert.Equal(t, code, err.Code(), err.Error())
	}
	assert.Equal(t, constants.ErrCodeInternal, errors.ErrIllegalArgument("x").Code())
}

func TestErrUnsupportedOperation(t *testing.T) {
	assert.Equal(t, constants.ErrCodeKeygenUnsupported, errors.ErrUnsupportedOperation("yubikey", errors.OpGenerateKey).Code())
	assert.Equal(t, constants.ErrCodeBindUnsupported, errors.ErrUnsupportedOperation("software", errors.OpBindKey).Code())
	assert.Equal(t, constants.ErrCodeUnsupportedData, errors.ErrUnsupportedOperation("x", errors.OpSign).Code())
}

func TestTranslate(t *testing.T) {
	assert.Nil(t, errors.Translate(nil))

	known := errors.ErrUnknownKey("k1")
	assert.Same(t, known, errors.Translate(fmt.Errorf("wrapped: %w", known)))

	assert.Equal(t, constants.ErrCodeTimedOut, errors.Translate(context.DeadlineExceeded).Code())
	assert.Equal(t, constants.ErrCodeUserCancel, errors.Translate(context.Canceled).Code())

	raw := stderrors.New("hardware exploded")
	translated := errors.Translate(raw)
	require.Equal(t, constants.ErrCodeInternal, translated.Code())
	assert.ErrorIs(t, translated, raw)
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("ctx: %w", errors.ErrUnknownKey("a"))
	assert.ErrorIs(t, err, errors.ErrUnknownKey("other"))
	assert.True(t, errors.IsCode(err, constants.ErrCodeUnknownKey))
	assert.False(t, errors.IsCode(err, constants.ErrCodeKeyBlocked))
	assert.False(t, errors.IsCode(stderrors.New("plain"), constants.ErrCodeUnknownKey))
}
