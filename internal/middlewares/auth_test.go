package middlewares

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/relaywire/messaging-relay/pkg/response"
)

func newEchoContext(method, path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func TestAPIKeyAuth_MissingServerKeyReturns500(t *testing.T) {
	mw := APIKeyAuth("") // server misconfigured

	c, rec := newEchoContext(http.MethodGet, "/test")
	handler := mw(okHandler)

	if err := handler(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}

	var body response.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if body.Success {
		t.Errorf("expected Success=false, got true")
	}
	if body.Error == "" {
		t.Errorf("expected error message, got empty string")
	}
}

func TestAPIKeyAuth_MissingClientKeyReturns401(t *testing.T) {
	mw := APIKeyAuth("secret")

	c, rec := newEchoContext(http.MethodGet, "/test")
	handler := mw(okHandler)

	// No x-relay-auth-key header
	if err := handler(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestAPIKeyAuth_WrongKeyReturns401(t *testing.T) {
	mw := APIKeyAuth("secret")

	c, rec := newEchoContext(http.MethodGet, "/test")
	c.Request().Header.Set(APIKeyHeader, "not-the-secret")

	if err := mw(okHandler)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestAPIKeyAuth_CorrectKeyPasses(t *testing.T) {
	mw := APIKeyAuth("secret")

	c, rec := newEchoContext(http.MethodGet, "/test")
	c.Request().Header.Set(APIKeyHeader, "secret")

	if err := mw(okHandler)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestBearerAuth_MissingServerSecretReturns500(t *testing.T) {
	mw := BearerAuth("")

	c, rec := newEchoContext(http.MethodGet, "/cron/process-outbox")

	if err := mw(okHandler)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
}

func TestBearerAuth_RejectsMissingAndMalformedHeaders(t *testing.T) {
	mw := BearerAuth("cron-secret")

	cases := []struct {
		name  string
		value string
	}{
		{"missing header", ""},
		{"no bearer prefix", "cron-secret"},
		{"wrong scheme", "Basic cron-secret"},
		{"wrong secret", "Bearer nope"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, rec := newEchoContext(http.MethodGet, "/cron/process-outbox")
			if tc.value != "" {
				c.Request().Header.Set(echo.HeaderAuthorization, tc.value)
			}

			if err := mw(okHandler)(c); err != nil {
				t.Fatalf("handler returned error: %v", err)
			}

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected status 401, got %d", rec.Code)
			}
		})
	}
}

func TestBearerAuth_CorrectSecretPasses(t *testing.T) {
	mw := BearerAuth("cron-secret")

	c, rec := newEchoContext(http.MethodGet, "/cron/process-outbox")
	c.Request().Header.Set(echo.HeaderAuthorization, "Bearer cron-secret")

	if err := mw(okHandler)(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}
