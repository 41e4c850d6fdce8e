package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(subject string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Roles: []string{"reviewer"},
	}
}

// run executes the middleware against a request and returns the handler's
// view of the actor.
func run(t *testing.T, cfg JWTConfig, req *http.Request) (uuid.UUID, bool, error) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var actor uuid.UUID
	var called bool
	h := ActorMiddleware(cfg)(func(c echo.Context) error {
		called = true
		actor, _ = ActorFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})
	err := h(c)
	return actor, called, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected HTTP %d, got nil error", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

// -- ActorMiddleware --

func TestActorMiddleware_MissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/evv/records", nil)
	_, called, err := run(t, JWTConfig{SigningKey: testSigningKey}, req)
	expectStatus(t, err, http.StatusUnauthorized)
	if called {
		t.Error("handler should not be called without an actor")
	}
}

func TestActorMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			_, _, err := run(t, JWTConfig{SigningKey: testSigningKey}, req)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestActorMiddleware_ValidToken(t *testing.T) {
	want := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+createTestToken(t, validClaims(want.String()), testSigningKey))

	got, called, err := run(t, JWTConfig{SigningKey: testSigningKey}, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler was not called")
	}
	if got != want {
		t.Errorf("expected actor %s, got %s", want, got)
	}
}

func TestActorMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims(uuid.NewString())
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+createTestToken(t, claims, testSigningKey))
	_, _, err := run(t, JWTConfig{SigningKey: testSigningKey}, req)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestActorMiddleware_WrongKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+createTestToken(t, validClaims(uuid.NewString()), []byte("other-key")))
	_, _, err := run(t, JWTConfig{SigningKey: testSigningKey}, req)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestActorMiddleware_SubjectNotUUID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+createTestToken(t, validClaims("user-123"), testSigningKey))
	_, _, err := run(t, JWTConfig{SigningKey: testSigningKey}, req)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestActorMiddleware_DevHeader(t *testing.T) {
	want := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, want.String())

	got, _, err := run(t, JWTConfig{SigningKey: testSigningKey, AllowHeader: true}, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("expected actor %s, got %s", want, got)
	}

	_, _, err = run(t, JWTConfig{SigningKey: testSigningKey}, req)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestActorMiddleware_PublicPathSkipped(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/health")

	called := false
	h := ActorMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error {
		called = true
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected public path to reach the handler")
	}
}

// -- Context helpers --

func TestActor_MissingIs401(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	_, err := Actor(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestActorFromContext_RoundTrip(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	got, ok := ActorFromContext(WithActor(req.Context(), id))
	if !ok || got != id {
		t.Errorf("expected %s, got %s (ok=%v)", id, got, ok)
	}
}
