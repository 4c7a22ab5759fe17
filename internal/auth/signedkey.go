package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fbonesso/storeops/internal/apierr"
	"github.com/fbonesso/storeops/internal/config"
)

// App Store Connect token constraints.
const (
	AppStoreAudience         = "appstoreconnect-v1"
	DefaultSignedKeyLifetime = 15 * time.Minute
	MaxSignedKeyLifetime     = 20 * time.Minute
)

// SignedKeyAuthenticator mints ES256 JWTs locally from an App Store Connect
// API key. It never touches the network.
type SignedKeyAuthenticator struct {
	keyID    string
	issuerID string
	key      *ecdsa.PrivateKey
	lifetime time.Duration
	now      func() time.Time
	cache    *tokenCache
}

// NewSignedKey parses the PEM key in cred (PKCS#8 or SEC1, P-256) and returns
// an authenticator. Unusable key material is a KindAuth error.
func NewSignedKey(cred config.SignedKey, opts ...Option) (*SignedKeyAuthenticator, error) {
	o := buildOptions(opts)

	if cred.KeyID == "" || cred.IssuerID == "" {
		return nil, apierr.New(apierr.KindConfig, "auth: key id and issuer id are required")
	}

	key, err := jwt.ParseECPrivateKeyFromPEM(cred.PrivateKey)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindAuth, err, "auth: invalid key material for key %s", cred.KeyID)
	}

	if key.Curve != elliptic.P256() {
		return nil, apierr.New(apierr.KindAuth, "auth: invalid key material for key %s: ES256 requires a P-256 key",
			cred.KeyID)
	}

	lifetime := o.lifetime
	if lifetime <= 0 {
		lifetime = DefaultSignedKeyLifetime
	}

	if lifetime > MaxSignedKeyLifetime {
		lifetime = MaxSignedKeyLifetime
	}

	a := &SignedKeyAuthenticator{
		keyID:    cred.KeyID,
		issuerID: cred.IssuerID,
		key:      key,
		lifetime: lifetime,
		now:      o.now,
	}
	a.cache = newTokenCache("signed-key:"+cred.KeyID, a.mint, o)

	return a, nil
}

// EnsureValid returns the cached token or mints a new one.
func (a *SignedKeyAuthenticator) EnsureValid(ctx context.Context) (Token, error) {
	return a.cache.get(ctx)
}

// Expiry returns the expiry of the cached token, zero before the first mint.
func (a *SignedKeyAuthenticator) Expiry() time.Time {
	return a.cache.expiry()
}

// Lifetime returns the effective token lifetime after clamping.
func (a *SignedKeyAuthenticator) Lifetime() time.Duration {
	return a.lifetime
}

func (a *SignedKeyAuthenticator) mint(context.Context) (Token, error) {
	now := a.now()
	// The exp claim has second precision; never report a later expiry.
	exp := time.Unix(now.Add(a.lifetime).Unix(), 0)

	t := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": a.issuerID,
		"iat": now.Unix(),
		"exp": exp.Unix(),
		"aud": AppStoreAudience,
	})
	t.Header["kid"] = a.keyID

	signed, err := t.SignedString(a.key)
	if err != nil {
		return Token{}, apierr.Wrap(apierr.KindAuth, err, "auth: signing token for key %s", a.keyID)
	}

	return Token{Value: signed, IssuedAt: now, ExpiresAt: exp}, nil
}
