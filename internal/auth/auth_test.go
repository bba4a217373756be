package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func newTestRouter(secret, audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", JWTMiddleware(secret, audience), func(c *gin.Context) {
		identity, _ := GetIdentityKey(c.Request.Context())
		attempt, _ := GetAttemptID(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"identity": identity, "attempt": attempt})
	})
	return router
}

func TestIssuedCredentialPassesMiddleware(t *testing.T) {
	issuer, err := NewCredentialIssuer(testSecret, "idassure", "idassure-api", time.Minute)
	if err != nil {
		t.Fatalf("failed to build issuer: %v", err)
	}
	cred, err := issuer.Issue(context.Background(), "alice", "attempt-1")
	if err != nil {
		t.Fatalf("failed to issue credential: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	resp := httptest.NewRecorder()
	newTestRouter(testSecret, "idassure-api").ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if body := resp.Body.String(); body != `{"attempt":"attempt-1","identity":"alice"}` {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestCredentialsAreUnpredictable(t *testing.T) {
	issuer, err := NewCredentialIssuer(testSecret, "", "", 0)
	if err != nil {
		t.Fatalf("failed to build issuer: %v", err)
	}

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		cred, err := issuer.Issue(context.Background(), "alice", "same-attempt")
		if err != nil {
			t.Fatalf("issue failed: %v", err)
		}
		if _, dup := seen[cred.Token]; dup {
			t.Fatalf("duplicate credential issued: %s", cred.Token)
		}
		seen[cred.Token] = struct{}{}
		if cred.ID == "" {
			t.Fatal("credential id must be set")
		}
	}
}

func TestNewCredentialIssuerRequiresSecret(t *testing.T) {
	if _, err := NewCredentialIssuer("  ", "", "", time.Minute); err != ErrMissingSigningKey {
		t.Fatalf("expected ErrMissingSigningKey, got %v", err)
	}
}

func TestMiddlewareRejections(t *testing.T) {
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	expiredToken, _ := expired.SignedString([]byte(testSecret))

	otherAudience := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		Audience:  jwt.ClaimStrings{"someone-else"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	otherAudienceToken, _ := otherAudience.SignedString([]byte(testSecret))

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	noSubjectToken, _ := noSubject.SignedString([]byte(testSecret))

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong scheme", header: "Basic abc"},
		{name: "garbage token", header: "Bearer not-a-jwt"},
		{name: "expired", header: "Bearer " + expiredToken},
		{name: "wrong audience", header: "Bearer " + otherAudienceToken},
		{name: "missing subject", header: "Bearer " + noSubjectToken},
	}

	router := newTestRouter(testSecret, "idassure-api")
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			if resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.Code)
			}
		})
	}
}
