package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Platform type constants.
const (
	platformAWS           = "aws"
	platformAzureIdentity = "azure_identity"
)

// DefaultEnvVars maps provider names to their default environment variable names.
// This keeps deployments working without an explicit credential block.
var DefaultEnvVars = map[string][]string{
	"whisper": {"OPENAI_API_KEY", "WHISPER_API_KEY"},
	"azure":   {"AZURE_OPENAI_API_KEY"},
}

// ProviderHeaderConfig maps provider names to their API key header configuration.
var ProviderHeaderConfig = map[string]struct {
	HeaderName string
	Prefix     string
}{
	"whisper": {HeaderName: "Authorization", Prefix: "Bearer "},
	"azure":   {HeaderName: "api-key", Prefix: ""},
}

// Spec is the credential block of a provider configuration entry.
type Spec struct {
	// APIKey is an explicit API key value.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// CredentialFile is a path to a file holding the API key.
	CredentialFile string `yaml:"credential_file,omitempty" json:"credential_file,omitempty"`

	// CredentialEnv names an environment variable holding the API key.
	CredentialEnv string `yaml:"credential_env,omitempty" json:"credential_env,omitempty"`

	// Platform selects a cloud identity chain instead of an API key
	// ("aws" or "azure_identity").
	Platform string `yaml:"platform,omitempty" json:"platform,omitempty"`

	// Region is the AWS region for platform "aws".
	Region string `yaml:"region,omitempty" json:"region,omitempty"`

	// RoleARN, if set, makes platform "aws" assume the role before signing.
	RoleARN string `yaml:"role_arn,omitempty" json:"role_arn,omitempty"`

	// Endpoint is the service endpoint for platform "azure_identity".
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// ResolverConfig holds configuration for credential resolution.
type ResolverConfig struct {
	// Provider is the provider name (whisper, azure, or a custom REST provider).
	Provider string

	// Spec is the credential configuration from the provider entry.
	Spec Spec

	// ConfigDir is the base directory for resolving relative credential file paths.
	ConfigDir string
}

// Resolve resolves credentials according to the chain:
// 1. platform identity (aws, azure_identity)
// 2. api_key (explicit value)
// 3. credential_file (read from file)
// 4. credential_env (read from environment variable)
// 5. default env vars for the provider
func Resolve(ctx context.Context, cfg ResolverConfig) (Credential, error) {
	if cfg.Spec.Platform != "" {
		return resolvePlatformCredential(ctx, cfg)
	}
	return resolveAPIKeyCredential(cfg)
}

// resolvePlatformCredential creates credentials backed by a cloud identity chain.
func resolvePlatformCredential(ctx context.Context, cfg ResolverConfig) (Credential, error) {
	switch strings.ToLower(cfg.Spec.Platform) {
	case platformAWS:
		if cfg.Spec.RoleARN != "" {
			return NewAWSCredentialWithRole(ctx, cfg.Spec.Region, cfg.Spec.RoleARN)
		}
		return NewAWSCredential(ctx, cfg.Spec.Region)
	case platformAzureIdentity:
		return NewAzureCredential(ctx, cfg.Spec.Endpoint)
	default:
		return nil, fmt.Errorf("unsupported platform type: %s", cfg.Spec.Platform)
	}
}

// resolveAPIKeyCredential resolves API key credentials from various sources.
func resolveAPIKeyCredential(cfg ResolverConfig) (Credential, error) {
	apiKey, err := findAPIKey(cfg)
	if err != nil {
		return nil, err
	}

	// No key found: some self-hosted providers run without auth.
	if apiKey == "" {
		return &NoOpCredential{}, nil
	}

	return createAPIKeyCredential(apiKey, cfg.Provider), nil
}

// findAPIKey searches for an API key in the resolution chain.
func findAPIKey(cfg ResolverConfig) (string, error) {
	// 1. Try explicit api_key
	if cfg.Spec.APIKey != "" {
		return cfg.Spec.APIKey, nil
	}

	// 2. Try credential_file
	if cfg.Spec.CredentialFile != "" {
		key, err := readCredentialFile(cfg.Spec.CredentialFile, cfg.ConfigDir)
		if err != nil {
			return "", fmt.Errorf("failed to read credential file: %w", err)
		}
		return key, nil
	}

	// 3. Try credential_env
	if cfg.Spec.CredentialEnv != "" {
		key := os.Getenv(cfg.Spec.CredentialEnv)
		if key == "" {
			return "", fmt.Errorf("environment variable %s is not set", cfg.Spec.CredentialEnv)
		}
		return key, nil
	}

	// 4. Try default env vars for the provider
	return findDefaultEnvKey(cfg.Provider), nil
}

// findDefaultEnvKey looks for API keys in default environment variables.
func findDefaultEnvKey(provider string) string {
	defaultVars, ok := DefaultEnvVars[provider]
	if !ok {
		return ""
	}
	for _, envVar := range defaultVars {
		if key := os.Getenv(envVar); key != "" {
			return key
		}
	}
	return ""
}

// createAPIKeyCredential creates an API key credential with provider-specific config.
func createAPIKeyCredential(apiKey, provider string) *APIKeyCredential {
	headerCfg, ok := ProviderHeaderConfig[provider]
	if !ok {
		// Default to Bearer token in Authorization header
		headerCfg = struct {
			HeaderName string
			Prefix     string
		}{HeaderName: "Authorization", Prefix: "Bearer "}
	}

	return NewAPIKeyCredential(apiKey,
		WithHeaderName(headerCfg.HeaderName),
		WithPrefix(headerCfg.Prefix),
	)
}

// readCredentialFile reads an API key from a file.
func readCredentialFile(path, configDir string) (string, error) {
	// Handle relative paths
	if !strings.HasPrefix(path, "/") && configDir != "" {
		path = configDir + "/" + path
	}

	//nolint:gosec // G304: File path is from trusted configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	// Trim whitespace and newlines
	return strings.TrimSpace(string(data)), nil
}

// MustResolve resolves credentials and panics on error.
// Use this only in initialization code where errors are unrecoverable.
func MustResolve(ctx context.Context, cfg ResolverConfig) Credential {
	cred, err := Resolve(ctx, cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve credentials: %v", err))
	}
	return cred
}
