package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	oauthjwt "golang.org/x/oauth2/jwt"

	"github.com/fbonesso/storeops/internal/apierr"
	"github.com/fbonesso/storeops/internal/config"
	"github.com/fbonesso/storeops/internal/tokenfile"
)

// AndroidPublisherScope is the OAuth scope for the Google Play Developer API.
const AndroidPublisherScope = "https://www.googleapis.com/auth/androidpublisher"

// exchangedLifetime is assumed when the token endpoint omits expires_in.
const exchangedLifetime = time.Hour

// ServiceAccountAuthenticator exchanges an RS256 assertion for an access
// token at the service account's token endpoint.
type ServiceAccountAuthenticator struct {
	email     string
	jwtConfig *oauthjwt.Config
	opts      options
	cache     *tokenCache
}

// NewServiceAccount validates cred and returns an authenticator. When a token
// cache path is configured, a fresh cached token for the same account is
// reused without an exchange.
func NewServiceAccount(cred config.ServiceAccount, opts ...Option) (*ServiceAccountAuthenticator, error) {
	o := buildOptions(opts)

	if _, err := jwt.ParseRSAPrivateKeyFromPEM(cred.PrivateKey); err != nil {
		return nil, apierr.Wrap(apierr.KindAuth, err, "auth: invalid key material for %s", cred.ClientEmail)
	}

	a := &ServiceAccountAuthenticator{
		email: cred.ClientEmail,
		jwtConfig: &oauthjwt.Config{
			Email:        cred.ClientEmail,
			PrivateKey:   cred.PrivateKey,
			PrivateKeyID: cred.PrivateKeyID,
			Scopes:       []string{AndroidPublisherScope},
			TokenURL:     cred.TokenURI,
		},
		opts: o,
	}
	a.cache = newTokenCache("service-account:"+cred.ClientEmail, a.exchange, o)

	if o.cachePath != "" {
		if tf := tokenfile.LoadFor(o.cachePath, cred.ClientEmail); tf != nil {
			a.cache.seed(Token{Value: tf.Token.AccessToken, IssuedAt: tf.IssuedAt, ExpiresAt: tf.Token.Expiry})
			o.logger.Debug("loaded cached token",
				slog.String("account", cred.ClientEmail),
				slog.Time("expires_at", tf.Token.Expiry),
			)
		}
	}

	return a, nil
}

// EnsureValid returns the cached token or performs an exchange.
func (a *ServiceAccountAuthenticator) EnsureValid(ctx context.Context) (Token, error) {
	return a.cache.get(ctx)
}

// Expiry returns the expiry of the cached token, zero before the first
// exchange.
func (a *ServiceAccountAuthenticator) Expiry() time.Time {
	return a.cache.expiry()
}

func (a *ServiceAccountAuthenticator) exchange(ctx context.Context) (Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.opts.httpClient)
	issued := a.opts.now()

	tok, err := a.jwtConfig.TokenSource(ctx).Token()
	if err != nil {
		return Token{}, classifyExchangeError(err, a.email)
	}

	expires := tok.Expiry
	if expires.IsZero() {
		expires = issued.Add(exchangedLifetime)
	}

	t := Token{Value: tok.AccessToken, IssuedAt: issued, ExpiresAt: expires}

	if a.opts.cachePath != "" {
		tf := &tokenfile.File{
			Token:    &oauth2.Token{AccessToken: t.Value, TokenType: "Bearer", Expiry: t.ExpiresAt},
			Subject:  a.email,
			IssuedAt: issued,
		}
		if err := tokenfile.Save(a.opts.cachePath, tf); err != nil {
			a.opts.logger.Warn("could not cache token",
				slog.String("path", a.opts.cachePath),
				slog.String("error", err.Error()),
			)
		}
	}

	return t, nil
}

// classifyExchangeError maps every token endpoint failure to KindAuth,
// keeping the HTTP status and the endpoint's error code when present.
func classifyExchangeError(err error, email string) error {
	e := apierr.Wrap(apierr.KindAuth, err, "auth: token exchange for %s failed", email)

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil {
			e.StatusCode = re.Response.StatusCode
		}

		code, desc := re.ErrorCode, re.ErrorDescription
		if code == "" && gjson.ValidBytes(re.Body) {
			code = gjson.GetBytes(re.Body, "error").String()
			desc = gjson.GetBytes(re.Body, "error_description").String()
		}

		if code != "" {
			e.Fields = []apierr.FieldError{{Code: code, Message: desc}}
		}
	}

	return e
}
