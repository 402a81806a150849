package secret

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merakimate/merakimate/pkg/util"
)

type fakeGetter struct {
	value *string
	err   error
	names []string
}

func (f *fakeGetter) GetSecret(_ context.Context, name, _ string, _ *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.names = append(f.names, name)
	var resp azsecrets.GetSecretResponse
	resp.Value = f.value
	return resp, f.err
}

func ptr(s string) *string { return &s }

func env(values map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := values[k]
		return v, ok
	}
}

func stdinFile(t *testing.T, content string) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stdin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestEnv(t *testing.T) {
	v, err := Env{Var: EnvAPIKey, Lookup: env(map[string]string{EnvAPIKey: " key-1 \n"})}.Secret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "key-1", v)
}

func TestVault(t *testing.T) {
	g := &fakeGetter{value: ptr("vault-key")}
	v := NewVaultWithClient("corp-kv", "meraki-api", g)

	got, err := v.Secret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "vault-key", got)
	assert.Equal(t, []string{"meraki-api"}, g.names)
	assert.Equal(t, "keyvault:corp-kv/meraki-api", v.Name())
	assert.Equal(t, "https://corp-kv.vault.azure.net", VaultURL("corp-kv"))
}

func TestNewVaultRequiresNames(t *testing.T) {
	_, err := NewVault("", "x")
	assert.True(t, errors.Is(err, util.ErrInvalidConfig))
}

func TestPromptReadsLineWhenNotTerminal(t *testing.T) {
	got, err := Prompt{In: stdinFile(t, "typed-key\nrest"), Out: io.Discard}.Secret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "typed-key", got)
}

func TestResolveFallsThrough(t *testing.T) {
	ctx := context.Background()
	vault := NewVaultWithClient("kv", "s", &fakeGetter{err: errors.New("no credential")})

	got, source, err := Resolve(ctx,
		Env{Var: EnvAPIKey, Lookup: env(nil)},
		vault,
		Prompt{In: stdinFile(t, "prompted\n"), Out: io.Discard},
	)
	require.NoError(t, err)
	assert.Equal(t, "prompted", got)
	assert.Equal(t, "prompt", source)
}

func TestResolveFirstWins(t *testing.T) {
	g := &fakeGetter{value: ptr("vault-key")}
	got, source, err := Resolve(context.Background(),
		Env{Var: EnvAPIKey, Lookup: env(map[string]string{EnvAPIKey: "env-key"})},
		NewVaultWithClient("kv", "s", g),
	)
	require.NoError(t, err)
	assert.Equal(t, "env-key", got)
	assert.Equal(t, "env:"+EnvAPIKey, source)
	assert.Empty(t, g.names)
}

func TestResolveNothing(t *testing.T) {
	_, _, err := Resolve(context.Background(), Env{Var: EnvAPIKey, Lookup: env(nil)}, NewVaultWithClient("kv", "s", &fakeGetter{value: nil}))
	assert.ErrorIs(t, err, ErrNoSecret)
}
