package credentials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyTo(t *testing.T, cred Credential) http.Header {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "http://example.com/transcribe", nil)
	require.NoError(t, cred.Apply(context.Background(), req))
	return req.Header
}

func TestResolve_ExplicitAPIKey(t *testing.T) {
	cred, err := Resolve(context.Background(), ResolverConfig{
		Provider: "whisper",
		Spec:     Spec{APIKey: "sk-test"},
	})
	require.NoError(t, err)

	assert.Equal(t, "api_key", cred.Type())
	assert.Equal(t, "Bearer sk-test", applyTo(t, cred).Get("Authorization"))
}

func TestResolve_AzureHeaderConfig(t *testing.T) {
	cred, err := Resolve(context.Background(), ResolverConfig{
		Provider: "azure",
		Spec:     Spec{APIKey: "az-key"},
	})
	require.NoError(t, err)

	headers := applyTo(t, cred)
	assert.Equal(t, "az-key", headers.Get("api-key"))
	assert.Empty(t, headers.Get("Authorization"))
}

func TestResolve_CredentialFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "key.txt"), []byte("  file-key\n"), 0o600))

	cred, err := Resolve(context.Background(), ResolverConfig{
		Provider:  "whisper",
		Spec:      Spec{CredentialFile: "key.txt"},
		ConfigDir: dir,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer file-key", applyTo(t, cred).Get("Authorization"))
}

func TestResolve_CredentialFileMissing(t *testing.T) {
	_, err := Resolve(context.Background(), ResolverConfig{
		Provider: "whisper",
		Spec:     Spec{CredentialFile: filepath.Join(t.TempDir(), "absent")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read credential file")
}

func TestResolve_CredentialEnv(t *testing.T) {
	t.Setenv("SCRIBEFLOW_TEST_KEY", "env-key")

	cred, err := Resolve(context.Background(), ResolverConfig{
		Provider: "whisper",
		Spec:     Spec{CredentialEnv: "SCRIBEFLOW_TEST_KEY"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer env-key", applyTo(t, cred).Get("Authorization"))
}

func TestResolve_CredentialEnvUnset(t *testing.T) {
	_, err := Resolve(context.Background(), ResolverConfig{
		Provider: "whisper",
		Spec:     Spec{CredentialEnv: "SCRIBEFLOW_UNSET_KEY"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCRIBEFLOW_UNSET_KEY")
}

func TestResolve_DefaultEnvVar(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "default-key")

	cred, err := Resolve(context.Background(), ResolverConfig{Provider: "whisper"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer default-key", applyTo(t, cred).Get("Authorization"))
}

func TestResolve_NoKeyReturnsNoOp(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("WHISPER_API_KEY", "")

	cred, err := Resolve(context.Background(), ResolverConfig{Provider: "whisper"})
	require.NoError(t, err)

	assert.Equal(t, "none", cred.Type())
	assert.Empty(t, applyTo(t, cred).Get("Authorization"))
}

func TestResolve_UnknownProviderUsesBearerDefault(t *testing.T) {
	cred, err := Resolve(context.Background(), ResolverConfig{
		Provider: "acme-stt",
		Spec:     Spec{APIKey: "k"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer k", applyTo(t, cred).Get("Authorization"))
}

func TestResolve_UnsupportedPlatform(t *testing.T) {
	_, err := Resolve(context.Background(), ResolverConfig{
		Provider: "whisper",
		Spec:     Spec{Platform: "gcp"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported platform type")
}
