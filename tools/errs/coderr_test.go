package errs

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapMsgKeepsCode(t *testing.T) {
	err := ErrNotFound.WrapMsg("message not found", "id", "m1")
	assert.True(t, IsCode(err, ErrNotFound))
	assert.False(t, IsCode(err, ErrConflict))
	assert.Contains(t, err.Error(), "id=m1")
}

func TestIsCodeThroughWrapping(t *testing.T) {
	err := ErrConflict.WrapMsg("update retries exhausted")
	wrapped := errors.WithMessage(err, "react failed")
	assert.True(t, IsCode(wrapped, ErrConflict))
}

func TestErrorsIsByCode(t *testing.T) {
	err := ErrValidation.WrapMsg("bad input")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestWithDetailDoesNotMutate(t *testing.T) {
	before := ErrCapacityExceeded.Detail
	err := ErrCapacityExceeded.WithDetail("room is full")
	require.Error(t, err)
	assert.Equal(t, before, ErrCapacityExceeded.Detail)

	var ce *CodeError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "room is full", ce.Detail)
}

func TestIsCodeNonCodeError(t *testing.T) {
	assert.False(t, IsCode(fmt.Errorf("plain"), ErrNotFound))
	assert.False(t, IsCode(nil, ErrNotFound))
}
