package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/fedmcp/pkg/domain"
)

func TestUserCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(nil)

	u := domain.User{ID: "u1", Email: "a@example.com", DisplayName: "A"}
	require.NoError(t, s.CreateUser(ctx, u))

	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, u, got)

	got, err = s.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, u, got)

	u.DisplayName = "A2"
	require.NoError(t, s.UpdateUser(ctx, u))
	got, _ = s.GetUser(ctx, "u1")
	assert.Equal(t, "A2", got.DisplayName)

	require.NoError(t, s.DeleteUser(ctx, "u1"))
	_, err = s.GetUser(ctx, "u1")
	assert.Error(t, err)
}

func TestTenantOAuthCredentials_GetUpsertDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(nil)

	c := domain.TenantOAuthCredentials{TenantID: "t1", ProviderName: "strava", ClientID: "abc"}
	require.NoError(t, s.UpsertTenantOAuthCredentials(ctx, c))

	got, err := s.GetTenantOAuthCredentials(ctx, "t1", "strava")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.ClientID)

	require.NoError(t, s.DeleteTenantOAuthCredentials(ctx, "t1", "strava"))
	_, err = s.GetTenantOAuthCredentials(ctx, "t1", "strava")
	assert.Error(t, err)
}

func TestUserProviderToken_ConcurrentUpsertIsAtomic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = s.UpsertUserProviderToken(ctx, domain.UserProviderToken{
				UserID: "u1", ProviderName: "strava", TenantID: "t1",
				AccessTokenEnc: "enc:token",
				ExpiresAt:      time.Now().Add(time.Duration(n) * time.Minute),
			})
		}(i)
	}
	wg.Wait()

	got, err := s.GetUserProviderToken(ctx, "u1", "strava", "t1")
	require.NoError(t, err)
	assert.Equal(t, "enc:token", got.AccessTokenEnc)
}

func TestToolCatalog_SeedAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New([]domain.ToolCatalogEntry{
		{ToolName: "get_activities", Category: domain.CategoryDataAccess},
		{ToolName: "calculate_recovery_score", Category: domain.CategoryAnalysis},
	})

	list, err := s.ListToolCatalog(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	entry, err := s.GetToolCatalogEntry(ctx, "get_activities")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryDataAccess, entry.Category)

	_, err = s.GetToolCatalogEntry(ctx, "nonexistent")
	assert.Error(t, err)
}

func TestTenantToolOverrides_ListScopedToTenant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(nil)

	require.NoError(t, s.UpsertTenantToolOverride(ctx, domain.TenantToolOverride{TenantID: "t1", ToolName: "tool_a"}))
	require.NoError(t, s.UpsertTenantToolOverride(ctx, domain.TenantToolOverride{TenantID: "t1", ToolName: "tool_b"}))
	require.NoError(t, s.UpsertTenantToolOverride(ctx, domain.TenantToolOverride{TenantID: "t2", ToolName: "tool_a"}))

	list, err := s.ListTenantToolOverrides(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, s.DeleteTenantToolOverride(ctx, "t1", "tool_a"))
	list, _ = s.ListTenantToolOverrides(ctx, "t1")
	assert.Len(t, list, 1)
}

func TestGetOrCreateSystemSecret_OnlyGeneratesOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(nil)

	calls := 0
	gen := func() (string, error) {
		calls++
		return "generated-key", nil
	}

	first, err := s.GetOrCreateSystemSecret(ctx, "envelope_master_key", gen)
	require.NoError(t, err)
	assert.Equal(t, "generated-key", first.Value)

	second, err := s.GetOrCreateSystemSecret(ctx, "envelope_master_key", gen)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls, "generator must run exactly once")
}

func TestGetOrCreateSystemSecret_PropagatesGeneratorError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(nil)

	boom := errors.New("rng unavailable")
	_, err := s.GetOrCreateSystemSecret(ctx, "k", func() (string, error) { return "", boom })
	require.Error(t, err)
}

func TestPendingOAuthState_GetAndDeleteIsSingleUse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(nil)

	rec := domain.PendingOAuthState{
		State: "state-123", UserID: "u1", TenantID: "t1", ProviderName: "strava",
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.SetPendingOAuthState(ctx, rec, time.Minute))

	got, err := s.GetAndDeletePendingOAuthState(ctx, "state-123")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	_, err = s.GetAndDeletePendingOAuthState(ctx, "state-123")
	assert.Error(t, err, "state must not be redeemable twice")
}

func TestPendingOAuthState_ExpiredStateRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(nil)

	rec := domain.PendingOAuthState{
		State: "state-expired", UserID: "u1", TenantID: "t1", ProviderName: "strava",
		CreatedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, s.SetPendingOAuthState(ctx, rec, time.Millisecond))

	time.Sleep(5 * time.Millisecond)
	_, err := s.GetAndDeletePendingOAuthState(ctx, "state-expired")
	assert.Error(t, err)
}

func TestPendingOAuthState_ConcurrentRedeemOnlySucceedsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(nil)

	rec := domain.PendingOAuthState{State: "race", UserID: "u1", CreatedAt: time.Now()}
	require.NoError(t, s.SetPendingOAuthState(ctx, rec, time.Minute))

	var wg sync.WaitGroup
	successes := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetAndDeletePendingOAuthState(ctx, "race")
			successes <- err == nil
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for ok := range successes {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one concurrent redeem must succeed")
}

func TestLLMCredentialCRUD_UserAndTenantScoped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(nil)

	userCred := domain.LLMCredential{TenantID: "t1", UserID: "u1", Provider: "gemini", APIKeyEnc: "enc-user"}
	tenantCred := domain.LLMCredential{TenantID: "t1", UserID: "", Provider: "gemini", APIKeyEnc: "enc-tenant"}
	require.NoError(t, s.UpsertLLMCredential(ctx, userCred))
	require.NoError(t, s.UpsertLLMCredential(ctx, tenantCred))

	got, err := s.GetLLMCredential(ctx, "t1", "u1", "gemini")
	require.NoError(t, err)
	assert.Equal(t, "enc-user", got.APIKeyEnc)

	got, err = s.GetLLMCredential(ctx, "t1", "", "gemini")
	require.NoError(t, err)
	assert.Equal(t, "enc-tenant", got.APIKeyEnc)

	all, err := s.ListLLMCredentials(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteLLMCredential(ctx, "t1", "u1", "gemini"))
	_, err = s.GetLLMCredential(ctx, "t1", "u1", "gemini")
	assert.Error(t, err)
}
