// Package auth provides Kalshi API authentication: RSA-PSS request signing
// and the legacy email/password bearer-token login.
package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header names expected by the Kalshi trade API.
const (
	HeaderAccessKey       = "KALSHI-ACCESS-KEY"
	HeaderAccessSignature = "KALSHI-ACCESS-SIGNATURE"
	HeaderAccessTimestamp = "KALSHI-ACCESS-TIMESTAMP"

	contentTypeJSON = "application/json"
)

var (
	// ErrNoCredentials means the relay cannot authenticate at all. Callers
	// switch to demo mode; retrying is pointless.
	ErrNoCredentials = errors.New("kalshi credentials not configured")
	ErrInvalidKey    = errors.New("invalid private key")
	ErrSigningFailed = errors.New("request signing failed")
)

// Authorizer attaches authentication to an outbound request.
type Authorizer interface {
	Authorize(ctx context.Context, req *http.Request) error
}

// Credentials holds the API key identifier and PEM private key material.
type Credentials struct {
	KeyID         string
	PrivateKeyPEM string
}

// Configured reports whether both fields are present.
func (c Credentials) Configured() bool {
	return c.KeyID != "" && c.PrivateKeyPEM != ""
}

// SignedHeaders is the per-request header set. The signature is bound to
// Timestamp, so a value must never be reused across requests.
type SignedHeaders struct {
	AccessKey   string
	Signature   string
	Timestamp   string
	ContentType string
}

// Apply writes the headers onto h.
func (s SignedHeaders) Apply(h http.Header) {
	h.Set(HeaderAccessKey, s.AccessKey)
	h.Set(HeaderAccessSignature, s.Signature)
	h.Set(HeaderAccessTimestamp, s.Timestamp)
	h.Set("Content-Type", s.ContentType)
}

// Signer produces Kalshi signed headers. It is immutable after construction
// and safe for concurrent use.
type Signer struct {
	keyID string
	key   *rsa.PrivateKey
	now   func() time.Time
}

// NewSigner parses the credential's private key.
func NewSigner(creds Credentials) (*Signer, error) {
	if !creds.Configured() {
		return nil, ErrNoCredentials
	}
	key, err := ParsePrivateKey(creds.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}
	return &Signer{keyID: creds.KeyID, key: key, now: time.Now}, nil
}

// NewSignerFromKey builds a Signer around an already parsed key.
func NewSignerFromKey(keyID string, key *rsa.PrivateKey) *Signer {
	return &Signer{keyID: keyID, key: key, now: time.Now}
}

// ParsePrivateKey decodes a PEM RSA key in PKCS#8 or PKCS#1 form. Literal
// "\n" sequences (common when the key is pasted into an env file) are
// turned into newlines first.
func ParsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	if !strings.Contains(pemData, "\n") && strings.Contains(pemData, `\n`) {
		pemData = strings.ReplaceAll(pemData, `\n`, "\n")
	}

	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("%w: failed to decode PEM block", ErrInvalidKey)
	}

	// Try PKCS#8 first (newer format)
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: key is not an RSA private key", ErrInvalidKey)
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return rsaKey, nil
}

// CanonicalMessage is the string Kalshi expects to be signed:
// timestamp + method + path, with any query string removed.
func CanonicalMessage(timestamp, method, path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return timestamp + strings.ToUpper(method) + path
}

// Sign returns a fresh header set for method and path.
func (s *Signer) Sign(method, path string) (SignedHeaders, error) {
	if s == nil || s.key == nil {
		return SignedHeaders{}, ErrNoCredentials
	}

	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	hashed := sha256.Sum256([]byte(CanonicalMessage(timestamp, method, path)))

	signature, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, hashed[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return SignedHeaders{}, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	return SignedHeaders{
		AccessKey:   s.keyID,
		Signature:   base64.StdEncoding.EncodeToString(signature),
		Timestamp:   timestamp,
		ContentType: contentTypeJSON,
	}, nil
}

// Authorize signs req using its method and URL path.
func (s *Signer) Authorize(_ context.Context, req *http.Request) error {
	headers, err := s.Sign(req.Method, req.URL.Path)
	if err != nil {
		return err
	}
	headers.Apply(req.Header)
	return nil
}

// Verify checks a base64 signature produced by Sign against the public key.
func Verify(pub *rsa.PublicKey, timestamp, method, path, signature string) error {
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	hashed := sha256.Sum256([]byte(CanonicalMessage(timestamp, method, path)))
	return rsa.VerifyPSS(pub, crypto.SHA256, hashed[:], raw, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
}
