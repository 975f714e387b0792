package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"daotreasury/crypto"
	"daotreasury/services/treasuryd/server"
)

type staticPass string

func (p staticPass) Get() (string, error) { return string(p), nil }

func useStaticPass(t *testing.T, pass string) {
	t.Helper()
	prev := newPassSource
	newPassSource = func(string) passSource { return staticPass(pass) }
	t.Cleanup(func() { newPassSource = prev })
}

func TestKeygenAddressAndToken(t *testing.T) {
	useStaticPass(t, "correct horse")
	path := filepath.Join(t.TempDir(), "admin.keystore")

	var out bytes.Buffer
	require.NoError(t, run(keygenCommand, []string{"-out", path, "-light"}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	generated := lines[1]
	require.True(t, strings.HasPrefix(generated, "dao1"))

	key, err := crypto.LoadFromKeystore(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, generated, key.PubKey().Address().String())

	out.Reset()
	require.NoError(t, run(addressCommand, []string{"-keystore", path}, &out))
	require.Equal(t, generated, strings.TrimSpace(out.String()))

	err = run(keygenCommand, []string{"-out", path, "-light"}, &out)
	require.ErrorContains(t, err, "already exists")

	t.Setenv("TREASURY_JWT_SECRET", "cli-secret")
	out.Reset()
	require.NoError(t, run(tokenCommand, []string{"-keystore", path, "-issuer", "treasuryd", "-ttl", "5m"}, &out))
	auth := server.NewAuthenticator(server.AuthConfig{HMACSecret: "cli-secret", Issuer: "treasuryd"}, nil)
	caller, err := auth.Caller(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().Raw(), caller)
}

func TestTokenForExplicitMember(t *testing.T) {
	t.Setenv("TREASURY_JWT_SECRET", "cli-secret")
	member := crypto.MemberAddress([20]byte{0x0A}).String()
	var out bytes.Buffer
	require.NoError(t, run(tokenCommand, []string{"-member", member}, &out))

	caller, err := server.NewAuthenticator(server.AuthConfig{HMACSecret: "cli-secret"}, nil).Caller(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, [20]byte{0x0A}, caller)
}

func TestTokenRequiresSecret(t *testing.T) {
	t.Setenv("TREASURY_JWT_SECRET", "")
	member := crypto.MemberAddress([20]byte{0x0A}).String()
	err := run(tokenCommand, []string{"-member", member}, &bytes.Buffer{})
	require.ErrorContains(t, err, "TREASURY_JWT_SECRET")
}

func TestUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	require.Error(t, run("deploy", nil, &out))
	require.Contains(t, out.String(), "Commands:")
}
