package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/hrygo/brandpulse/store"
)

func TestAIError(t *testing.T) {
	err := StoreUnavailable(context.DeadlineExceeded)
	assert.Equal(t, "[STORE_UNAVAILABLE] analytics store unavailable: context deadline exceeded", err.Error())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	wrapped := fmt.Errorf("health: %w", err)
	assert.True(t, IsCode(wrapped, ErrCodeStoreUnavailable))
	assert.Equal(t, ErrCodeStoreUnavailable, GetCodeFromError(wrapped, ErrCodeAgentExecutionFailed))
	assert.Equal(t, ErrCodeAgentExecutionFailed, GetCodeFromError(context.Canceled, ErrCodeAgentExecutionFailed))
	assert.Equal(t, map[string]string{"status": "error", "message": "analytics store unavailable"}, err.Body())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"store down", pkgerrors.Wrap(store.ErrStoreUnavailable, "dial tcp: refused"), ErrCodeStoreUnavailable},
		{"statement timeout", pkgerrors.Wrap(store.ErrQueryTimeout, "canceling statement"), ErrCodeTimeout},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"client gone", context.Canceled, ErrCodeContextCanceled},
		{"already coded", Busy("full"), ErrCodeBusy},
		{"other", fmt.Errorf("boom"), ErrCodeServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, ErrCodeServiceUnavailable, "failed")
			assert.Equal(t, tt.want, got.Code)
		})
	}
	assert.Nil(t, Classify(nil, ErrCodeServiceUnavailable, "failed"))
	assert.Equal(t, "failed", Classify(fmt.Errorf("secret detail"), ErrCodeServiceUnavailable, "failed").Message)
}

func TestHTTPStatus(t *testing.T) {
	tests := map[ErrorCode]int{
		ErrCodeInvalidArgument:      http.StatusBadRequest,
		ErrCodeRateLimitExceeded:    http.StatusTooManyRequests,
		ErrCodeBusy:                 http.StatusServiceUnavailable,
		ErrCodeStoreUnavailable:     http.StatusServiceUnavailable,
		ErrCodeTimeout:              http.StatusGatewayTimeout,
		ErrCodeContextCanceled:      499,
		ErrCodeAgentExecutionFailed: http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, code.HTTPStatus(), code)
	}
}
