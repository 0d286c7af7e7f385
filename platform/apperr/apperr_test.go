package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation("missing conversation id"), http.StatusBadRequest},
		{NotFound("session not found"), http.StatusNotFound},
		{Unauthorized("invalid signature"), http.StatusUnauthorized},
		{Forbidden("tenant not accessible"), http.StatusForbidden},
		{Upstream("provider down", errors.New("timeout")), http.StatusBadGateway},
		{Internal("boom"), http.StatusInternalServerError},
		{New(KindUnknown, "odd"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
		{fmt.Errorf("outer: %w", Validation("inner")), http.StatusBadRequest},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}

func TestKindAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Upstream("voice provider unreachable", cause).WithOp("provider.do")

	assert.True(t, Is(err, KindUpstream))
	assert.False(t, Is(err, KindInternal))
	assert.Equal(t, KindUnknown, GetKind(cause))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "provider.do: voice provider unreachable: connection reset", err.Error())
}
