package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookline/internal/auth"
)

func doRole(t *testing.T, h http.Handler, method, path, tenant, role string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Tenant-Id", tenant)
	req.Header.Set("X-Role", role)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestViewerIsReadOnly(t *testing.T) {
	h := newTestServer(t).Handler()
	wh := createWebhook(t, h, "t1", "https://a.test/hook")

	for _, path := range []string{"/v1/webhooks", "/v1/webhooks/" + wh.ID, "/v1/webhooks/" + wh.ID + "/deliveries", "/v1/webhooks/" + wh.ID + "/stats"} {
		assert.Equal(t, http.StatusOK, doRole(t, h, http.MethodGet, path, "t1", "viewer").Code, path)
	}
	writes := []struct{ method, path string }{
		{http.MethodPost, "/v1/webhooks"},
		{http.MethodDelete, "/v1/webhooks/" + wh.ID},
		{http.MethodPost, "/v1/webhooks/" + wh.ID + "/enable"},
		{http.MethodPost, "/v1/webhooks/" + wh.ID + "/test"},
		{http.MethodPost, "/v1/events"},
	}
	for _, c := range writes {
		rr := doRole(t, h, c.method, c.path, "t1", "viewer")
		assert.Equal(t, http.StatusForbidden, rr.Code, "%s %s", c.method, c.path)
		assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	}

	rr := doRole(t, h, http.MethodGet, "/v1/webhooks/"+wh.ID, "t1", "viewer")
	assert.Contains(t, rr.Body.String(), `"active":true`, "viewer could not disable")
	assert.Equal(t, http.StatusOK, doRole(t, h, http.MethodDelete, "/v1/webhooks/"+wh.ID, "t1", "member").Code)
}

func TestBearerRoleControlsWrites(t *testing.T) {
	h := newTestServer(t).Handler()
	req := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
	req.Header.Set("Authorization", "Bearer t1:viewer")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestLimitedPassesPrincipalToHandler(t *testing.T) {
	s := newTestServer(t)
	var got auth.Principal
	h := s.limited(func(w http.ResponseWriter, r *http.Request) {
		// credentials are not re-read once resolved
		r.Header.Del("X-Tenant-Id")
		r.Header.Del("X-Role")
		pr, ok := s.principal(w, r)
		require.True(t, ok)
		got = pr
	})
	rr := doRole(t, h, http.MethodGet, "/v1/webhooks", "t1", "viewer")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, auth.Principal{Tenant: "t1", Role: auth.RoleViewer}, got)

	h = s.limited(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Set("X-Tenant-Id", "late")
		_, ok := s.principal(w, r)
		assert.False(t, ok)
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/webhooks", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestTenantLimiterEvictsIdleBuckets(t *testing.T) {
	l := newTenantLimiter(10, 5)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for _, k := range []string{"ip:a", "ip:b", "ip:c"} {
		assert.True(t, l.allow(k))
	}
	assert.Equal(t, 3, l.size())

	now = now.Add(limiterIdle / 2)
	assert.True(t, l.allow("ip:a"))

	now = now.Add(limiterIdle/2 + time.Second)
	assert.True(t, l.allow("tenant:t1"))
	assert.Equal(t, 2, l.size(), "only the recently used bucket and the new one remain")

	var nilLimiter *tenantLimiter
	assert.True(t, nilLimiter.allow("anything"))
}
