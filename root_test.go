package main

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fbonesso/storeops/internal/apierr"
	"github.com/fbonesso/storeops/internal/config"
)

// cliResult is the outcome of one run() invocation.
type cliResult struct {
	code   int
	stdout string
	stderr string
}

// lastErrorLine decodes the JSON error object, which is always the last
// line written to stderr.
func (r cliResult) lastErrorLine(t *testing.T) errorDetail {
	t.Helper()

	lines := strings.Split(strings.TrimSpace(r.stderr), "\n")
	require.NotEmpty(t, lines)

	var body errorBody
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &body), "stderr: %s", r.stderr)

	return body.Error
}

// cliEnv is an isolated home directory and config file for CLI tests.
type cliEnv struct {
	dir    string
	config string
}

// newCLIEnv clears every STOREOPS_* variable and points HOME and the XDG
// directories at a temp dir.
func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	dir := t.TempDir()

	for _, name := range []string{
		config.EnvConfig, config.EnvProfile, config.EnvAppleKeyID, config.EnvAppleIssuerID,
		config.EnvAppleKeyPath, config.EnvGoogleServiceAccount,
	} {
		t.Setenv(name, "")
	}

	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))

	return &cliEnv{dir: dir, config: filepath.Join(dir, "storeops.toml")}
}

// run executes the CLI with --config pointing at the env's config file.
func (e *cliEnv) run(t *testing.T, args ...string) cliResult {
	t.Helper()

	var stdout, stderr bytes.Buffer

	code := run(t.Context(), append([]string{"--config", e.config}, args...), &stdout, &stderr)

	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// writeAppleKey writes a fresh P-256 key in .p8 form.
func (e *cliEnv) writeAppleKey(t *testing.T) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	path := filepath.Join(e.dir, "AuthKey_KEY1.p8")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600))

	return path
}

// writeServiceAccount writes a service-account key whose token endpoint is
// tokenURI.
func (e *cliEnv) writeServiceAccount(t *testing.T, tokenURI string) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	sa, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"client_email":   "ci@example.iam.gserviceaccount.com",
		"private_key":    string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		"private_key_id": "kid-1",
		"token_uri":      tokenURI,
	})
	require.NoError(t, err)

	path := filepath.Join(e.dir, "sa.json")
	require.NoError(t, os.WriteFile(path, sa, 0o600))

	return path
}

// loginApple saves an unverified apple profile named "apple".
func (e *cliEnv) loginApple(t *testing.T) {
	t.Helper()

	res := e.run(t, "-q", "auth", "login", "--name", "apple", "--store", "apple",
		"--key-id", "KEY1", "--issuer-id", "issuer-1", "--key-path", e.writeAppleKey(t), "--no-verify")
	require.Equal(t, apierr.ExitOK, res.code, res.stderr)
}

// loginGoogle saves an unverified google profile named "google".
func (e *cliEnv) loginGoogle(t *testing.T, tokenURI string) {
	t.Helper()

	res := e.run(t, "-q", "auth", "login", "--name", "google", "--store", "google",
		"--service-account", e.writeServiceAccount(t, tokenURI), "--no-verify")
	require.Equal(t, apierr.ExitOK, res.code, res.stderr)
}

// --- buildLogger tests ---

func TestBuildLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		settings config.Settings
		flags    CLIFlags
		enabled  slog.Level
		disabled slog.Level
	}{
		{"default info", config.Settings{}, CLIFlags{}, slog.LevelInfo, slog.LevelDebug},
		{"config warn", config.Settings{LogLevel: "warn"}, CLIFlags{}, slog.LevelWarn, slog.LevelInfo},
		{"verbose beats config", config.Settings{LogLevel: "error"}, CLIFlags{Verbose: true}, slog.LevelDebug, slog.LevelDebug - 1},
		{"quiet", config.Settings{LogLevel: "debug"}, CLIFlags{Quiet: true}, slog.LevelError, slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := buildLogger(&bytes.Buffer{}, tt.settings, tt.flags)

			assert.True(t, logger.Handler().Enabled(context.Background(), tt.enabled))
			assert.False(t, logger.Handler().Enabled(context.Background(), tt.disabled))
		})
	}
}

func TestBuildLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer

	logger := buildLogger(&buf, config.Settings{LogFormat: "json"}, CLIFlags{})
	logger.Info("hello", slog.String("k", "v"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "v", rec["k"])
}

// --- run() tests ---

func TestRun_UnknownCommandIsUsageError(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "frobnicate")

	assert.Equal(t, apierr.ExitUser, res.code)
	assert.Equal(t, "usage_error", res.lastErrorLine(t).Kind)
}

func TestRun_NextAndPaginateAreExclusive(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "--next", "abc", "--paginate", "apple", "apps", "list")

	assert.Equal(t, apierr.ExitUser, res.code)
	assert.Equal(t, "usage_error", res.lastErrorLine(t).Kind)
}

func TestRun_NoProfileIsConfigError(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "apple", "apps", "list")

	assert.Equal(t, apierr.ExitUser, res.code)
	assert.Equal(t, "config_error", res.lastErrorLine(t).Kind)
}

func TestRun_InvalidCursorIsUsageError(t *testing.T) {
	env := newCLIEnv(t)
	env.loginApple(t)

	res := env.run(t, "--next", "!!not-base64!!", "apple", "apps", "list")

	assert.Equal(t, apierr.ExitUser, res.code)
	assert.Equal(t, "usage_error", res.lastErrorLine(t).Kind)
}

func TestRun_InvalidWorkersIsUsageError(t *testing.T) {
	env := newCLIEnv(t)

	res := env.run(t, "--workers", "0", "auth", "status")

	assert.Equal(t, apierr.ExitUser, res.code)
	assert.Equal(t, "usage_error", res.lastErrorLine(t).Kind)
}
