package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fbonesso/storeops/internal/apierr"
)

// envProfileName labels credentials that came from environment variables
// rather than a stored profile.
const envProfileName = "env"

// defaultGoogleTokenURI is used when a service-account file omits token_uri.
const defaultGoogleTokenURI = "https://oauth2.googleapis.com/token"

// Credential is the closed set of key material the authenticators accept:
// SignedKey or ServiceAccount.
type Credential interface {
	// StoreTag returns StoreApple or StoreGoogle.
	StoreTag() string
	isCredential()
}

// SignedKey is an App Store Connect API key: a .p8 EC private key plus the
// identifiers that go into the token header and claims.
type SignedKey struct {
	KeyID      string
	IssuerID   string
	PrivateKey []byte // PEM
}

func (SignedKey) StoreTag() string { return StoreApple }
func (SignedKey) isCredential()    {}

// ServiceAccount is the subset of a Google service-account JSON key needed
// to mint assertions.
type ServiceAccount struct {
	ClientEmail  string
	PrivateKey   []byte // PEM
	PrivateKeyID string
	TokenURI     string
}

func (ServiceAccount) StoreTag() string { return StoreGoogle }
func (ServiceAccount) isCredential()    {}

// ResolvedCredential is the credential chosen for one command, with the
// profile it came from.
type ResolvedCredential struct {
	ProfileName string
	Profile     Profile
	Credential  Credential
}

// FromEnv reports whether the credential came from environment variables.
func (r *ResolvedCredential) FromEnv() bool {
	return r.ProfileName == envProfileName
}

// ResolveCredential picks and loads the credential for store. Environment
// credentials for that store win over any profile; otherwise the active
// profile (see Store.Active) must belong to store.
func (s *Store) ResolveCredential(store, flag string, env EnvOverrides) (*ResolvedCredential, error) {
	if cred, ok, err := credentialFromEnv(store, env); ok || err != nil {
		if err != nil {
			return nil, err
		}

		return &ResolvedCredential{
			ProfileName: envProfileName,
			Profile:     Profile{Store: store},
			Credential:  cred,
		}, nil
	}

	name, err := s.Active(flag, env)
	if err != nil {
		return nil, err
	}

	p, err := s.Get(name)
	if err != nil {
		return nil, err
	}

	if p.Store != store {
		return nil, apierr.Wrap(apierr.KindConfig, ErrStoreMismatch,
			"profile %q is a %s profile, not %s", name, p.Store, store)
	}

	cred, err := LoadCredential(p)
	if err != nil {
		return nil, err
	}

	return &ResolvedCredential{ProfileName: name, Profile: p, Credential: cred}, nil
}

func credentialFromEnv(store string, env EnvOverrides) (Credential, bool, error) {
	switch {
	case store == StoreApple && env.hasAppleCredentials():
		cred, err := loadSignedKey(env.AppleKeyID, env.AppleIssuerID, env.AppleKeyPath)
		return cred, true, err
	case store == StoreGoogle && env.GoogleServiceAccount != "":
		cred, err := loadServiceAccount(env.GoogleServiceAccount)
		return cred, true, err
	default:
		return nil, false, nil
	}
}

// LoadCredential reads the key material referenced by p from disk.
func LoadCredential(p Profile) (Credential, error) {
	switch p.Store {
	case StoreApple:
		return loadSignedKey(p.KeyID, p.IssuerID, p.KeyPath)
	case StoreGoogle:
		return loadServiceAccount(p.ServiceAccountPath)
	default:
		return nil, apierr.New(apierr.KindConfig, "unknown store %q", p.Store)
	}
}

func loadSignedKey(keyID, issuerID, keyPath string) (SignedKey, error) {
	key, err := os.ReadFile(expandTilde(keyPath))
	if err != nil {
		return SignedKey{}, apierr.Wrap(apierr.KindConfig, err, "reading key %s", keyPath)
	}

	return SignedKey{KeyID: keyID, IssuerID: issuerID, PrivateKey: key}, nil
}

// serviceAccountFile mirrors the fields of a Google service-account JSON key.
type serviceAccountFile struct {
	Type         string `json:"type"`
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
}

func loadServiceAccount(path string) (ServiceAccount, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return ServiceAccount{}, apierr.Wrap(apierr.KindConfig, err, "reading service account %s", path)
	}

	var f serviceAccountFile
	if err := json.Unmarshal(data, &f); err != nil {
		return ServiceAccount{}, apierr.Wrap(apierr.KindConfig, err, "parsing service account %s", path)
	}

	if f.ClientEmail == "" || f.PrivateKey == "" {
		return ServiceAccount{}, apierr.New(apierr.KindConfig,
			"service account %s: client_email and private_key are required", path)
	}

	if f.Type != "" && f.Type != "service_account" {
		return ServiceAccount{}, apierr.New(apierr.KindConfig,
			"service account %s: unexpected key type %q", path, f.Type)
	}

	tokenURI := f.TokenURI
	if tokenURI == "" {
		tokenURI = defaultGoogleTokenURI
	}

	return ServiceAccount{
		ClientEmail:  f.ClientEmail,
		PrivateKey:   []byte(f.PrivateKey),
		PrivateKeyID: f.PrivateKeyID,
		TokenURI:     tokenURI,
	}, nil
}

// Describe names a credential for display without exposing key material.
func Describe(c Credential) string {
	switch v := c.(type) {
	case SignedKey:
		return fmt.Sprintf("signed key %s (issuer %s)", v.KeyID, v.IssuerID)
	case ServiceAccount:
		return "service account " + v.ClientEmail
	default:
		return "unknown credential"
	}
}
