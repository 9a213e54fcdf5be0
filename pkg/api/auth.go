package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// WebhookSecretHeader carries the shared secret for clients that cannot put it in the body.
const WebhookSecretHeader = "X-Webhook-Secret"

var (
	errNoSecretConfigured = errors.New("webhook secret not configured")
	errMissingCredentials = errors.New("missing webhook credentials")
	errSecretMismatch     = errors.New("webhook secret mismatch")
)

// WebhookAuth checks webhook callers against a shared secret. The secret may be sent in the request body,
// in the X-Webhook-Secret header, or as an HS256 bearer token signed with it. Tokens must carry an exp claim.
type WebhookAuth struct {
	secret []byte
}

// NewWebhookAuth creates a WebhookAuth. An empty secret rejects every request.
func NewWebhookAuth(secret string) *WebhookAuth {
	return &WebhookAuth{secret: []byte(secret)}
}

// Verify authenticates r. bodySecret is the secret field of the decoded request body, if any.
func (a *WebhookAuth) Verify(r *http.Request, bodySecret string) error {
	if len(a.secret) == 0 {
		return errNoSecretConfigured
	}

	if bodySecret != "" {
		return a.compare(bodySecret)
	}
	if h := r.Header.Get(WebhookSecretHeader); h != "" {
		return a.compare(h)
	}
	if token, ok := bearerToken(r); ok {
		return a.verifyToken(token)
	}
	return errMissingCredentials
}

func (a *WebhookAuth) compare(candidate string) error {
	if subtle.ConstantTimeCompare([]byte(candidate), a.secret) != 1 {
		return errSecretMismatch
	}
	return nil
}

func (a *WebhookAuth) verifyToken(tokenString string) error {
	_, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("invalid webhook token: %w", err)
	}
	return nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}
