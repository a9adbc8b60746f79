package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func signToken(t *testing.T, secret []byte, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func runMiddleware(mw echo.MiddlewareFunc, req *http.Request) (*httptest.ResponseRecorder, string, error) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var userID string
	handler := mw(func(c echo.Context) error {
		userID = UserIDFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	err := handler(c)
	return rec, userID, err
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	secret := []byte("test-secret")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, secret, "patient-1"))

	_, userID, err := runMiddleware(JWTMiddleware(secret), req)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if userID != "patient-1" {
		t.Errorf("expected subject patient-1 in context, got %q", userID)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, _, err := runMiddleware(JWTMiddleware([]byte("secret")), req)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_WrongSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, []byte("other-secret"), "patient-1"))

	_, _, err := runMiddleware(JWTMiddleware([]byte("secret")), req)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_EmptySubject(t *testing.T) {
	secret := []byte("secret")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, secret, ""))

	_, _, err := runMiddleware(JWTMiddleware(secret), req)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, userID, err := runMiddleware(DevAuthMiddleware(), req)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if userID != "dev-user" {
		t.Errorf("expected dev-user, got %q", userID)
	}
}
