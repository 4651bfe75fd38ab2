package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/text2sql/text2sql/internal/observability"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator(" k1:analyst , k2:dashboard")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	if validator.Len() != 2 {
		t.Fatalf("Len() = %d", validator.Len())
	}
	identity, ok := validator.Validate(context.Background(), "k2")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.Client != "dashboard" {
		t.Fatalf("Client = %q", identity.Client)
	}
	if _, ok := validator.Validate(context.Background(), "k3"); ok {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestStaticAPIKeyValidatorRejectsMalformedList(t *testing.T) {
	for _, list := range []string{"invalid", "k1:", ":client", "k1:a,k1:b"} {
		if _, err := NewStaticAPIKeyValidator(list); err == nil {
			t.Fatalf("expected parse error for %q", list)
		}
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:analyst")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for name, tc := range map[string]struct {
		header [2]string
		reason string
	}{
		"missing":    {header: [2]string{"", ""}, reason: "missing_key"},
		"wrong key":  {header: [2]string{"X-API-Key", "nope"}, reason: "invalid_key"},
		"basic auth": {header: [2]string{"Authorization", "Basic azE="}, reason: "missing_key"},
	} {
		t.Run(name, func(t *testing.T) {
			before := testutil.ToFloat64(observability.AuthRejections(tc.reason))
			req := httptest.NewRequest(http.MethodPost, "/v1/ask", nil)
			if tc.header[0] != "" {
				req.Header.Set(tc.header[0], tc.header[1])
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
			}
			if rr.Header().Get("WWW-Authenticate") == "" {
				t.Fatal("missing WWW-Authenticate header")
			}
			var body struct {
				ErrorCode string            `json:"error_code"`
				Context   map[string]string `json:"context"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.ErrorCode != "UNAUTHORIZED" || body.Context["reason"] != tc.reason {
				t.Fatalf("body = %+v", body)
			}
			if after := testutil.ToFloat64(observability.AuthRejections(tc.reason)); after != before+1 {
				t.Fatalf("rejections = %v, want %v", after, before+1)
			}
		})
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:analyst")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Error("expected identity in context")
		}
		if identity.Client != "analyst" {
			t.Errorf("Client = %q", identity.Client)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, header := range [][2]string{{"X-API-Key", "k1"}, {"Authorization", "Bearer k1"}, {"Authorization", "bearer k1"}} {
		req := httptest.NewRequest(http.MethodGet, "/v1/schema", nil)
		req.Header.Set(header[0], header[1])
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s: status = %d", header[0], rr.Code)
		}
	}
}
