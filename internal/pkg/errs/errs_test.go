package errs_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"messenger/internal/pkg/errs"
)

func TestNewError(t *testing.T) {
	err := errs.NewError(errs.ErrUnauthorized)
	assert.Equal(t, errs.ErrUnauthorized, err.Code)
	assert.Equal(t, http.StatusUnauthorized, err.Status)

	formatted := errs.NewError(errs.ErrEventUnknown, "typing")
	assert.Equal(t, `Unknown event "typing".`, formatted.Message)
	assert.Equal(t, http.StatusOK, formatted.Status, "codes without a status default to 200")

	unknown := errs.NewError(424242)
	assert.Equal(t, errs.ErrUnknown, unknown.Code)
}

func TestNewError_DoesNotMutateTemplate(t *testing.T) {
	first := errs.NewError(errs.ErrChatTypeInvalid, "channel")
	second := errs.NewError(errs.ErrChatTypeInvalid, "room")

	assert.NotEqual(t, first.Message, second.Message)
}

func TestIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("send: %w", errs.NewError(errs.ErrConversationKeyInvalid, "a-b"))

	assert.ErrorIs(t, wrapped, errs.NewError(errs.ErrConversationKeyInvalid))
	assert.NotErrorIs(t, wrapped, errs.NewError(errs.ErrGroupNotFound))
	assert.True(t, errs.HasCode(wrapped, errs.ErrConversationKeyInvalid))
	assert.False(t, errs.HasCode(errors.New("plain"), errs.ErrConversationKeyInvalid))
}

func TestFromResponse(t *testing.T) {
	known := errs.FromResponse(errs.ErrUserAlreadyExists, "taken")
	assert.Equal(t, http.StatusConflict, known.Status)
	assert.Equal(t, "taken", known.Message)

	foreign := errs.FromResponse(9999, "from a newer server")
	assert.Equal(t, 9999, foreign.Code)
	assert.Equal(t, http.StatusInternalServerError, foreign.Status)
}
