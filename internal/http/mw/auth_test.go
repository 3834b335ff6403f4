package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signTestToken(t *testing.T, secret, tenantID string, expiry time.Time) string {
	t.Helper()
	claims := tenantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
		TenantID: tenantID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	v := NewJWTVerifier("test-secret")
	token := signTestToken(t, "test-secret", "tenant-123", time.Now().Add(time.Hour))

	claims, err := v.Verify(t.Context(), token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.TenantID != "tenant-123" {
		t.Errorf("TenantID = %q, want %q", claims.TenantID, "tenant-123")
	}
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	v := NewJWTVerifier("test-secret")
	token := signTestToken(t, "other-secret", "tenant-123", time.Now().Add(time.Hour))

	if _, err := v.Verify(t.Context(), token); err == nil {
		t.Error("expected error for token signed with wrong secret")
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	v := NewJWTVerifier("test-secret")
	token := signTestToken(t, "test-secret", "tenant-123", time.Now().Add(-time.Hour))

	if _, err := v.Verify(t.Context(), token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestJWTVerifier_MissingTenant(t *testing.T) {
	v := NewJWTVerifier("test-secret")
	claims := tenantClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}

	if _, err := v.Verify(t.Context(), signed); err == nil {
		t.Error("expected error for token with no tenant_id or sub claim")
	}
}

func TestJWTVerifier_MalformedToken(t *testing.T) {
	v := NewJWTVerifier("test-secret")
	if _, err := v.Verify(t.Context(), "not-a-jwt"); err == nil {
		t.Error("expected error for malformed token")
	}
}

func TestGetUserClaims(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job_1", nil)

	if claims := GetUserClaims(req.Context()); claims != nil {
		t.Errorf("GetUserClaims() = %+v, want nil", claims)
	}
}

func TestAuth_MissingAuthHeader(t *testing.T) {
	verifier := NewJWTVerifier("test-secret")
	handler := Auth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job_1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	verifier := NewJWTVerifier("test-secret")
	handler := Auth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job_1", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAuth_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier("test-secret")
	var gotClaims *UserClaims
	handler := Auth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = GetUserClaims(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token := signTestToken(t, "test-secret", "tenant-123", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job_1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotClaims == nil || gotClaims.TenantID != "tenant-123" {
		t.Errorf("claims = %+v, want TenantID tenant-123", gotClaims)
	}
}

func TestOptionalAuth_NoAuth(t *testing.T) {
	verifier := NewJWTVerifier("test-secret")
	var gotClaims *UserClaims
	handler := OptionalAuth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = GetUserClaims(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job_1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotClaims != nil {
		t.Errorf("claims = %+v, want nil", gotClaims)
	}
}

func TestOptionalAuth_InvalidAuth(t *testing.T) {
	verifier := NewJWTVerifier("test-secret")
	handler := OptionalAuth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job_1", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (optional auth should not reject)", rec.Code, http.StatusOK)
	}
}

func TestOptionalAuth_WithBearerPrefix(t *testing.T) {
	verifier := NewJWTVerifier("test-secret")
	var gotClaims *UserClaims
	handler := OptionalAuth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = GetUserClaims(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token := signTestToken(t, "test-secret", "tenant-123", time.Now().Add(time.Hour))
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job_1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotClaims == nil || gotClaims.TenantID != "tenant-123" {
		t.Errorf("claims = %+v, want TenantID tenant-123", gotClaims)
	}
}
