package credentials

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// tokenRefreshBuffer refreshes tokens this long before expiry so a token
// never dies mid-upload.
const tokenRefreshBuffer = 5 * time.Minute

// cognitiveServicesScope is the token scope for Azure OpenAI audio endpoints.
const cognitiveServicesScope = "https://cognitiveservices.azure.com/.default"

// AzureCredential authenticates against Azure OpenAI transcription
// deployments with Azure AD tokens, cached across requests.
type AzureCredential struct {
	endpoint string
	cred     azcore.TokenCredential

	mu          sync.RWMutex
	cachedToken *azcore.AccessToken
}

// NewAzureCredential uses the default credential chain: managed identity,
// Azure CLI, environment variables.
func NewAzureCredential(_ context.Context, endpoint string) (*AzureCredential, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return &AzureCredential{endpoint: endpoint, cred: cred}, nil
}

// NewAzureCredentialWithClientSecret authenticates with a client secret.
func NewAzureCredentialWithClientSecret(
	_ context.Context, endpoint, tenantID, clientID, clientSecret string,
) (*AzureCredential, error) {
	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return &AzureCredential{endpoint: endpoint, cred: cred}, nil
}

// NewAzureCredentialWithManagedIdentity authenticates with a managed
// identity, optionally pinned to a client ID.
func NewAzureCredentialWithManagedIdentity(
	_ context.Context, endpoint string, clientID *string,
) (*AzureCredential, error) {
	opts := &azidentity.ManagedIdentityCredentialOptions{}
	if clientID != nil && *clientID != "" {
		opts.ID = azidentity.ClientID(*clientID)
	}

	cred, err := azidentity.NewManagedIdentityCredential(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure managed identity credential: %w", err)
	}
	return &AzureCredential{endpoint: endpoint, cred: cred}, nil
}

// Apply sets a bearer token on the request, refreshing it when close to
// expiry.
func (c *AzureCredential) Apply(ctx context.Context, req *http.Request) error {
	token, err := c.getToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get Azure token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.Token)
	return nil
}

func (c *AzureCredential) Type() string { return "azure" }

// Endpoint returns the configured Azure endpoint.
func (c *AzureCredential) Endpoint() string {
	return c.endpoint
}

func (c *AzureCredential) getToken(ctx context.Context) (*azcore.AccessToken, error) {
	c.mu.RLock()
	cached := c.cachedToken
	c.mu.RUnlock()
	if tokenFresh(cached) {
		return cached, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another request may have refreshed while we waited on the lock.
	if tokenFresh(c.cachedToken) {
		return c.cachedToken, nil
	}

	token, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{cognitiveServicesScope},
	})
	if err != nil {
		return nil, err
	}

	c.cachedToken = &token
	return &token, nil
}

func tokenFresh(t *azcore.AccessToken) bool {
	return t != nil && t.ExpiresOn.After(time.Now().Add(tokenRefreshBuffer))
}
