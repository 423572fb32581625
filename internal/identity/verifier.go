// Package identity verifies bearer tokens from the hosted identity provider
// and looks up user details from its API.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const leeway = 30 * time.Second

var (
	ErrNoToken      = errors.New("no bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier validates RS-signed JWTs against the provider's JWKS.
type Verifier struct {
	issuer  string
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
}

// NewVerifier fetches signing keys from jwksURL, defaulting to the issuer's
// well-known JWKS document. An empty audience skips the aud check.
func NewVerifier(issuer, audience, jwksURL string) (*Verifier, error) {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, errors.New("issuer must be set")
	}
	if jwksURL == "" {
		jwksURL = strings.TrimSuffix(issuer, "/") + "/.well-known/jwks.json"
	}

	kf, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("init jwks keyfunc: %w", err)
	}
	return NewVerifierWithKeyfunc(issuer, audience, kf.Keyfunc), nil
}

// NewVerifierWithKeyfunc builds a verifier around a fixed key source.
func NewVerifierWithKeyfunc(issuer, audience string, kf jwt.Keyfunc) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithIssuer(issuer),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{
			jwt.SigningMethodRS256.Name,
			jwt.SigningMethodRS384.Name,
			jwt.SigningMethodRS512.Name,
		}),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &Verifier{
		issuer:  issuer,
		keyfunc: kf,
		parser:  jwt.NewParser(opts...),
	}
}

// Verify parses and validates a token and returns its claims.
func (v *Verifier) Verify(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrNoToken
	}

	parsed, err := v.parser.Parse(token, v.keyfunc)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}

	sub, _ := mc.GetSubject()
	if sub == "" {
		return Claims{}, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	email, _ := mc["email"].(string)
	return Claims{Subject: sub, Email: email}, nil
}
