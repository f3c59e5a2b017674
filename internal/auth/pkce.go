// Package auth implements the Laddel enrollment flow and token lifecycle.
// The identity provider (Keycloak) offers no machine-to-machine login, so
// enrollment emulates the mobile app's browser flow: OAuth2 authorization code
// with PKCE, credentials submitted against the server-rendered login form.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCEParams holds the per-attempt parameters of one authorization request.
// The verifier lives only for the duration of a single login attempt and is
// transmitted exactly once, at token exchange.
type PKCEParams struct {
	Verifier  string
	Challenge string
	State     string
	Nonce     string
}

// GeneratePKCEParams creates a new PKCE verifier/challenge pair plus the state
// and nonce for one authorization request, as specified in RFC 7636. The
// challenge is the URL-safe base64 encoding of the SHA-256 hash of the
// verifier, without padding.
func GeneratePKCEParams() (*PKCEParams, error) {
	verifier, err := randomToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	state, err := randomToken(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := randomToken(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return &PKCEParams{
		Verifier:  verifier,
		Challenge: ChallengeFromVerifier(verifier),
		State:     state,
		Nonce:     nonce,
	}, nil
}

// ChallengeFromVerifier derives the S256 code challenge for a verifier.
func ChallengeFromVerifier(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// randomToken returns n bytes from the CSPRNG, URL-safe base64 encoded
// without padding.
func randomToken(n int) (string, error) {
	bytes := make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
