package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPVerifierValidPIN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/verify-pin" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization header = %q", got)
		}
		var req struct {
			PIN string `json:"pin"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.PIN != "4321" {
			t.Errorf("pin = %q", req.PIN)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"is_valid":        true,
			"name":            "Dr. Huda",
			"signature_image": "signatures/huda.png",
		})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, "tok")
	got, err := v.VerifyPIN(context.Background(), "4321")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Name != "Dr. Huda" || got.SignatureImage != "signatures/huda.png" {
		t.Fatalf("verification = %+v", got)
	}
}

func TestHTTPVerifierInvalidPIN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"is_valid": false})
	}))
	defer srv.Close()

	_, err := NewHTTPVerifier(srv.URL, "").VerifyPIN(context.Background(), "0000")
	if !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("expected ErrInvalidPIN, got %v", err)
	}
}

func TestHTTPVerifierExpiredSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewHTTPVerifier(srv.URL, "stale").VerifyPIN(context.Background(), "4321")
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
}

func TestHTTPVerifierUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPVerifier(srv.URL, "").VerifyPIN(context.Background(), "4321")
	if err == nil || errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("expected generic error, got %v", err)
	}
}

func TestMemoryVerifier(t *testing.T) {
	v := NewMemoryVerifier(map[string]Verification{
		"1111": {Name: "tech"},
	})
	got, err := v.VerifyPIN(context.Background(), "1111")
	if err != nil || got.Name != "tech" {
		t.Fatalf("verify = %+v, %v", got, err)
	}
	if _, err := v.VerifyPIN(context.Background(), "2222"); !errors.Is(err, ErrInvalidPIN) {
		t.Fatalf("expected ErrInvalidPIN, got %v", err)
	}
}
