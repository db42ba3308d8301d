package oauthmgr

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/fedmcp/pkg/crypto"
	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/provider"
	"github.com/stacklok/fedmcp/pkg/storage/memstore"
)

const testProvider = "fakeprovider"

// fakeHTTP lets tests script the token endpoint's responses without a
// real listener; each call consumes one scripted response in order.
type fakeHTTP struct {
	responses []fakeResponse
	calls     []url.Values
	i         int
}

type fakeResponse struct {
	status int
	body   string
}

func (f *fakeHTTP) Do(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	form, _ := url.ParseQuery(string(body))
	f.calls = append(f.calls, form)

	resp := f.responses[f.i]
	if f.i < len(f.responses)-1 {
		f.i++
	}
	return &http.Response{
		StatusCode: resp.status,
		Body:       io.NopCloser(bytes.NewReader([]byte(resp.body))),
		Header:     make(http.Header),
	}, nil
}

func testRegistry() *provider.Registry {
	reg := provider.NewRegistry()
	reg.Register(domain.ProviderDescriptor{
		Name:           testProvider,
		DisplayName:    "Fake Provider",
		Capabilities:   map[domain.Capability]bool{domain.CapabilityActivities: true},
		AuthURL:        "https://fake.example/oauth/authorize",
		TokenURL:       "https://fake.example/oauth/token",
		RevokeURL:      "https://fake.example/oauth/revoke",
		DefaultScopes:  []string{"activity:read"},
		ScopeSeparator: ",",
		RequiresOAuth:  true,
		UsesPKCE:       true,
	}, domain.ProviderConfig{Name: testProvider}, func(domain.ProviderConfig) (provider.FitnessProvider, error) {
		return nil, nil
	})
	return reg
}

func testManager(t *testing.T, doer *fakeHTTP) (*Manager, *memstore.Store) {
	t.Helper()
	key, err := crypto.DeriveKey("test-master-key")
	require.NoError(t, err)
	enc, err := crypto.NewEnvelopeStore(key)
	require.NoError(t, err)
	store := memstore.New(nil)
	return New(store, enc, testRegistry(), doer), store
}

func seedTenantCreds(t *testing.T, m *Manager, store *memstore.Store, tenantID string) {
	t.Helper()
	secretEnc, err := m.enc.Encrypt("s3cr3t", tenantSecretAAD(tenantID, testProvider))
	require.NoError(t, err)
	require.NoError(t, store.UpsertTenantOAuthCredentials(context.Background(), domain.TenantOAuthCredentials{
		TenantID:        tenantID,
		ProviderName:    testProvider,
		ClientID:        "client-123",
		ClientSecretEnc: secretEnc,
		RedirectURI:     "https://app.example/callback",
		Scopes:          []string{"activity:read", "profile:read"},
	}))
}

func TestBuildAuthorizationURL_PKCEAndState(t *testing.T) {
	t.Parallel()
	m, store := testManager(t, &fakeHTTP{})
	seedTenantCreds(t, m, store, "tenant-a")

	authURL, err := m.BuildAuthorizationURL(context.Background(), "tenant-a", "user-1", testProvider)
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()

	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "activity:read,profile:read", q.Get("scope"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("state"))

	pending, err := store.GetAndDeletePendingOAuthState(context.Background(), q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "user-1", pending.UserID)
	assert.NotEmpty(t, pending.CodeVerifier)
}

func TestBuildAuthorizationURL_MissingTenantCreds(t *testing.T) {
	t.Parallel()
	m, _ := testManager(t, &fakeHTTP{})

	_, err := m.BuildAuthorizationURL(context.Background(), "tenant-missing", "user-1", testProvider)
	assert.Error(t, err)
}

func TestExchangeCode_StoresEncryptedToken(t *testing.T) {
	t.Parallel()
	fake := &fakeHTTP{responses: []fakeResponse{{
		status: 200,
		body:   `{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600,"scope":"activity:read"}`,
	}}}
	m, store := testManager(t, fake)
	seedTenantCreds(t, m, store, "tenant-a")

	authURL, err := m.BuildAuthorizationURL(context.Background(), "tenant-a", "user-1", testProvider)
	require.NoError(t, err)
	parsed, _ := url.Parse(authURL)
	state := parsed.Query().Get("state")

	require.NoError(t, m.ExchangeCode(context.Background(), "auth-code-xyz", state))

	bundle, err := m.GetValidToken(context.Background(), "user-1", testProvider, "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, bundle)
	assert.Equal(t, "at-1", bundle.AccessToken)
	assert.Equal(t, "rt-1", bundle.RefreshToken)

	// Exchange consumed the verifier that was sent.
	assert.NotEmpty(t, fake.calls[0].Get("code_verifier"))
}

func TestExchangeCode_UnknownState(t *testing.T) {
	t.Parallel()
	m, _ := testManager(t, &fakeHTTP{})
	err := m.ExchangeCode(context.Background(), "code", "never-issued")
	assert.Error(t, err)
}

func TestGetValidToken_NotConnected(t *testing.T) {
	t.Parallel()
	m, _ := testManager(t, &fakeHTTP{})
	bundle, err := m.GetValidToken(context.Background(), "user-1", testProvider, "tenant-a")
	require.NoError(t, err)
	assert.Nil(t, bundle)
}

func TestGetValidToken_RefreshesExpiredToken(t *testing.T) {
	t.Parallel()
	http := &fakeHTTP{responses: []fakeResponse{{
		status: 200,
		body:   `{"access_token":"at-refreshed","expires_in":3600}`,
	}}}
	m, store := testManager(t, http)
	seedTenantCreds(t, m, store, "tenant-a")

	aad := userTokenAAD("tenant-a", "user-1", testProvider)
	accessEnc, _ := m.enc.Encrypt("at-old", aad)
	refreshEnc, _ := m.enc.Encrypt("rt-old", aad)
	require.NoError(t, store.UpsertUserProviderToken(context.Background(), domain.UserProviderToken{
		UserID: "user-1", ProviderName: testProvider, TenantID: "tenant-a",
		AccessTokenEnc: accessEnc, RefreshTokenEnc: refreshEnc,
		ExpiresAt: time.Now().UTC().Add(-time.Minute), // already expired
	}))

	bundle, err := m.GetValidToken(context.Background(), "user-1", testProvider, "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, bundle)
	assert.Equal(t, "at-refreshed", bundle.AccessToken)
	// Provider omitted refresh_token, old one must be preserved.
	assert.Equal(t, "rt-old", bundle.RefreshToken)

	sent := http.calls[0]
	assert.Equal(t, "refresh_token", sent.Get("grant_type"))
	assert.Equal(t, "rt-old", sent.Get("refresh_token"))
}

func TestGetValidToken_RevokedRefreshDeletesToken(t *testing.T) {
	t.Parallel()
	fake := &fakeHTTP{responses: []fakeResponse{{
		status: 400,
		body:   `{"error":"invalid_grant"}`,
	}}}
	m, store := testManager(t, fake)
	seedTenantCreds(t, m, store, "tenant-a")

	aad := userTokenAAD("tenant-a", "user-1", testProvider)
	accessEnc, _ := m.enc.Encrypt("at-old", aad)
	refreshEnc, _ := m.enc.Encrypt("rt-dead", aad)
	require.NoError(t, store.UpsertUserProviderToken(context.Background(), domain.UserProviderToken{
		UserID: "user-1", ProviderName: testProvider, TenantID: "tenant-a",
		AccessTokenEnc: accessEnc, RefreshTokenEnc: refreshEnc,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}))

	_, err := m.GetValidToken(context.Background(), "user-1", testProvider, "tenant-a")
	assert.Error(t, err)

	_, err = store.GetUserProviderToken(context.Background(), "user-1", testProvider, "tenant-a")
	assert.Error(t, err, "revoked refresh token must delete the local record")
}

func TestGetValidToken_TransientRefreshFailureLeavesTokenIntact(t *testing.T) {
	t.Parallel()
	fake := &fakeHTTP{responses: []fakeResponse{{status: 503, body: ""}}}
	m, store := testManager(t, fake)
	seedTenantCreds(t, m, store, "tenant-a")

	aad := userTokenAAD("tenant-a", "user-1", testProvider)
	accessEnc, _ := m.enc.Encrypt("at-old", aad)
	refreshEnc, _ := m.enc.Encrypt("rt-old", aad)
	require.NoError(t, store.UpsertUserProviderToken(context.Background(), domain.UserProviderToken{
		UserID: "user-1", ProviderName: testProvider, TenantID: "tenant-a",
		AccessTokenEnc: accessEnc, RefreshTokenEnc: refreshEnc,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}))

	_, err := m.GetValidToken(context.Background(), "user-1", testProvider, "tenant-a")
	assert.Error(t, err)

	stillThere, err := store.GetUserProviderToken(context.Background(), "user-1", testProvider, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, accessEnc, stillThere.AccessTokenEnc)
}

func TestDisconnect_RevokesAndDeletes(t *testing.T) {
	t.Parallel()
	fake := &fakeHTTP{responses: []fakeResponse{{status: 200, body: ""}}}
	m, store := testManager(t, fake)
	seedTenantCreds(t, m, store, "tenant-a")

	aad := userTokenAAD("tenant-a", "user-1", testProvider)
	accessEnc, _ := m.enc.Encrypt("at-old", aad)
	require.NoError(t, store.UpsertUserProviderToken(context.Background(), domain.UserProviderToken{
		UserID: "user-1", ProviderName: testProvider, TenantID: "tenant-a",
		AccessTokenEnc: accessEnc, ExpiresAt: time.Now().UTC().Add(time.Hour),
	}))

	require.NoError(t, m.Disconnect(context.Background(), "user-1", testProvider, "tenant-a"))

	_, err := store.GetUserProviderToken(context.Background(), "user-1", testProvider, "tenant-a")
	assert.Error(t, err)
	assert.Equal(t, "at-old", fake.calls[0].Get("token"))
}

func TestRefreshAndGet_ConcurrentCallersShareOneRefresh(t *testing.T) {
	t.Parallel()
	fake := &fakeHTTP{responses: []fakeResponse{{
		status: 200,
		body:   `{"access_token":"at-shared","expires_in":3600}`,
	}}}
	m, store := testManager(t, fake)
	seedTenantCreds(t, m, store, "tenant-a")

	aad := userTokenAAD("tenant-a", "user-1", testProvider)
	accessEnc, _ := m.enc.Encrypt("at-old", aad)
	refreshEnc, _ := m.enc.Encrypt("rt-old", aad)
	require.NoError(t, store.UpsertUserProviderToken(context.Background(), domain.UserProviderToken{
		UserID: "user-1", ProviderName: testProvider, TenantID: "tenant-a",
		AccessTokenEnc: accessEnc, RefreshTokenEnc: refreshEnc,
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}))

	const n = 8
	results := make(chan *TokenBundle, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			b, err := m.GetValidToken(context.Background(), "user-1", testProvider, "tenant-a")
			results <- b
			errs <- err
		}()
	}

	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
		b := <-results
		require.NotNil(t, b)
		assert.Equal(t, "at-shared", b.AccessToken)
	}

	// Only one token request should have reached the fake endpoint.
	assert.Len(t, fake.calls, 1)
}
