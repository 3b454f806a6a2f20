// Package identity verifies operator PINs against the central staff service
// and resolves verified signer names and signature images.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrAuthExpired indicates the service session is no longer valid and the
// caller must re-authenticate before retrying.
var ErrAuthExpired = errors.New("identity: authentication expired")

// ErrInvalidPIN indicates the PIN did not match any registered operator.
var ErrInvalidPIN = errors.New("identity: invalid pin")

// Verification is the identity resolved for a valid PIN.
type Verification struct {
	Name           string `json:"name"`
	SignatureImage string `json:"signature_image,omitempty"`
}

// Verifier resolves a PIN to a verified operator identity.
type Verifier interface {
	VerifyPIN(ctx context.Context, pin string) (Verification, error)
}

// HTTPVerifier calls the staff service's PIN verification endpoint.
type HTTPVerifier struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPVerifier constructs a verifier against the given service base URL.
// The token, if set, is sent as a bearer credential.
func NewHTTPVerifier(baseURL, token string) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type verifyRequest struct {
	PIN string `json:"pin"`
}

type verifyResponse struct {
	IsValid        bool   `json:"is_valid"`
	Name           string `json:"name"`
	SignatureImage string `json:"signature_image"`
}

// VerifyPIN posts the PIN and maps the wire response onto a Verification.
// A 401 maps to ErrAuthExpired; a valid response with is_valid=false maps to
// ErrInvalidPIN.
func (v *HTTPVerifier) VerifyPIN(ctx context.Context, pin string) (Verification, error) {
	body, err := json.Marshal(verifyRequest{PIN: pin})
	if err != nil {
		return Verification{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/verify-pin", bytes.NewReader(body))
	if err != nil {
		return Verification{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if v.token != "" {
		req.Header.Set("Authorization", "Bearer "+v.token)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return Verification{}, fmt.Errorf("verify pin: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Verification{}, ErrAuthExpired
	case resp.StatusCode != http.StatusOK:
		return Verification{}, fmt.Errorf("verify pin: unexpected status %d", resp.StatusCode)
	}

	var decoded verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Verification{}, fmt.Errorf("verify pin: decode response: %w", err)
	}
	if !decoded.IsValid {
		return Verification{}, ErrInvalidPIN
	}
	return Verification{Name: decoded.Name, SignatureImage: decoded.SignatureImage}, nil
}

// MemoryVerifier resolves PINs from a static map. Intended for tests and
// offline environments.
type MemoryVerifier struct {
	pins map[string]Verification
}

// NewMemoryVerifier constructs a verifier over the provided PIN table.
func NewMemoryVerifier(pins map[string]Verification) *MemoryVerifier {
	if pins == nil {
		pins = map[string]Verification{}
	}
	return &MemoryVerifier{pins: pins}
}

// VerifyPIN resolves the PIN from the static table.
func (v *MemoryVerifier) VerifyPIN(_ context.Context, pin string) (Verification, error) {
	ver, ok := v.pins[pin]
	if !ok {
		return Verification{}, ErrInvalidPIN
	}
	return ver, nil
}
