package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// AzureVaultURI returns the Key Vault endpoint for a vault name.
func AzureVaultURI(vaultName string) string {
	return fmt.Sprintf("https://%s.vault.azure.net", vaultName)
}

// azureSecretGetter is the subset of *azsecrets.Client used here.
type azureSecretGetter interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
}

// AzureClient reads secrets from Azure Key Vault. The latest version of
// each secret is returned. Safe for concurrent use.
type AzureClient struct {
	vaultURI string
	client   azureSecretGetter
}

// NewAzureClient connects to the vault named vaultName. When cred is nil the
// default Azure credential chain (environment, workload identity, managed
// identity, Azure CLI) is used.
func NewAzureClient(vaultName string, cred azcore.TokenCredential) (*AzureClient, error) {
	if vaultName == "" {
		return nil, fmt.Errorf("key vault name is required (set vault.azure.name or KEY_VAULT_NAME)")
	}
	if cred == nil {
		dc, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("creating default azure credential: %w", err)
		}
		cred = dc
	}
	uri := AzureVaultURI(vaultName)
	client, err := azsecrets.NewClient(uri, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating key vault client for %s: %w", uri, err)
	}
	return &AzureClient{vaultURI: uri, client: client}, nil
}

func (c *AzureClient) Kind() string { return "azure" }

// VaultURI returns the endpoint the client talks to.
func (c *AzureClient) VaultURI() string { return c.vaultURI }

// GetSecret fetches the latest version of name. Key Vault secret names only
// allow alphanumerics and dashes, so underscores are mapped to dashes.
func (c *AzureClient) GetSecret(ctx context.Context, name string) (string, error) {
	resp, err := c.client.GetSecret(ctx, AzureSecretName(name), "", nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) &&
			(respErr.StatusCode == http.StatusNotFound || respErr.ErrorCode == "SecretNotFound") {
			return "", &NotFoundError{Name: name, Backend: c.Kind(), Err: err}
		}
		return "", &BackendUnavailableError{Name: name, Backend: c.Kind(), Err: err}
	}
	if resp.Value == nil {
		return "", &NotFoundError{Name: name, Backend: c.Kind()}
	}
	return *resp.Value, nil
}

// AzureSecretName maps a logical secret name to a valid Key Vault name.
func AzureSecretName(name string) string {
	return strings.ReplaceAll(name, "_", "-")
}
