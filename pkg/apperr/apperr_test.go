package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToJSONRPCError_Mapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"invalid params maps to -32602", New(KindInvalidParams, "bad arg"), CodeInvalidParams},
		{"tool not available maps to -32601", New(KindToolNotAvailable, "disabled"), CodeMethodOrTool},
		{"auth error maps to -32603", New(KindAuthenticationRequired, "no principal"), CodeInternal},
		{"upstream error maps to -32603", New(KindProviderAPIError, "5xx"), CodeInternal},
		{"plain error maps to -32603", errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ToJSONRPCError(tt.err)
			assert.Equal(t, tt.wantCode, got.Code)
		})
	}
}

func TestError_Is(t *testing.T) {
	t.Parallel()

	err := Wrap(KindNotFound, "missing", errors.New("cause"))
	assert.True(t, errors.Is(err, New(KindNotFound, "")))
	assert.False(t, errors.Is(err, New(KindTimeout, "")))
}

func TestDefaultRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, New(KindProviderRateLimited, "").Retryable)
	assert.False(t, New(KindInvalidParams, "").Retryable)
}
