package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	infisical "github.com/infisical/go-sdk"
)

// InfisicalConfig configures an Infisical client.
type InfisicalConfig struct {
	URL         string // Site URL (overridden by INFISICAL_URL). Default: https://app.infisical.com.
	Token       string // Machine identity access token (overridden by INFISICAL_TOKEN).
	ProjectID   string // Overridden by INFISICAL_PROJECT_ID.
	Environment string // Overridden by INFISICAL_ENVIRONMENT. Default: "dev".
	Path        string // Secret folder. Default: "/".
}

// infisicalRetrieveFunc fetches a single secret value.
type infisicalRetrieveFunc func(options infisical.RetrieveSecretOptions) (string, error)

// InfisicalClient reads secrets from an Infisical project environment.
type InfisicalClient struct {
	retrieve    infisicalRetrieveFunc
	projectID   string
	environment string
	path        string
}

// NewInfisicalClient creates a client authenticated with an access token.
func NewInfisicalClient(ctx context.Context, cfg InfisicalConfig) (*InfisicalClient, error) {
	url := firstNonEmpty(os.Getenv("INFISICAL_URL"), cfg.URL, "https://app.infisical.com")
	token := firstNonEmpty(os.Getenv("INFISICAL_TOKEN"), cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("infisical token is required (set vault.infisical.token or INFISICAL_TOKEN)")
	}
	projectID := firstNonEmpty(os.Getenv("INFISICAL_PROJECT_ID"), cfg.ProjectID)
	if projectID == "" {
		return nil, fmt.Errorf("infisical project id is required (set vault.infisical.project_id or INFISICAL_PROJECT_ID)")
	}

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl: url,
	})
	client.Auth().SetAccessToken(token)
	api := client.Secrets()

	return &InfisicalClient{
		retrieve: func(options infisical.RetrieveSecretOptions) (string, error) {
			secret, err := api.Retrieve(options)
			if err != nil {
				return "", err
			}
			return secret.SecretValue, nil
		},
		projectID:   projectID,
		environment: firstNonEmpty(os.Getenv("INFISICAL_ENVIRONMENT"), cfg.Environment, "dev"),
		path:        firstNonEmpty(cfg.Path, "/"),
	}, nil
}

func (c *InfisicalClient) Kind() string { return "infisical" }

// GetSecret retrieves name from the configured project environment.
// The SDK call is not context-aware; ctx is checked before the request.
func (c *InfisicalClient) GetSecret(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &BackendUnavailableError{Name: name, Backend: c.Kind(), Err: err}
	}
	value, err := c.retrieve(infisical.RetrieveSecretOptions{
		SecretKey:   name,
		ProjectID:   c.projectID,
		Environment: c.environment,
		SecretPath:  c.path,
	})
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "not found") || strings.Contains(msg, "404") {
			return "", &NotFoundError{Name: name, Backend: c.Kind(), Err: err}
		}
		return "", &BackendUnavailableError{Name: name, Backend: c.Kind(), Err: err}
	}
	return value, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
