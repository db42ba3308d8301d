package authn

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/fedmcp/pkg/apperr"
)

func TestExtractPrincipal_EmptyTokenRequiresAuth(t *testing.T) {
	v := New([]byte("secret"))
	_, err := v.ExtractPrincipal("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.New(apperr.KindAuthenticationRequired, "")))
}

func TestIssueTokenThenExtractPrincipal_RoundTrips(t *testing.T) {
	v := New([]byte("secret"))
	token, err := v.IssueToken("user-1", "tenant-1", true, time.Hour)
	require.NoError(t, err)

	p, err := v.ExtractPrincipal(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "tenant-1", p.TenantID)
	assert.True(t, p.IsAdmin)
}

func TestExtractPrincipal_ExpiredTokenIsDistinguished(t *testing.T) {
	v := New([]byte("secret"))
	token, err := v.IssueToken("user-1", "tenant-1", false, -time.Minute)
	require.NoError(t, err)

	_, err = v.ExtractPrincipal(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.New(apperr.KindTokenExpired, "")))
}

func TestExtractPrincipal_WrongKeyRejected(t *testing.T) {
	signer := New([]byte("secret-a"))
	token, err := signer.IssueToken("user-1", "tenant-1", false, time.Hour)
	require.NoError(t, err)

	verifier := New([]byte("secret-b"))
	_, err = verifier.ExtractPrincipal(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.New(apperr.KindAuthenticationRequired, "")))
}
