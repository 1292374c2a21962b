package secret

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/worldline-go/klient"
	"golang.org/x/oauth2/clientcredentials"
)

const azureKeyVaultScope = "https://vault.azure.net/.default"

// AzureProvider resolves "azure://vault/name[?version=V]" references
// against Azure Key Vault's REST API, authenticating via an AAD
// client-credentials token (no official Azure SDK is present anywhere in
// the retrieved example corpus, so the REST call is made directly over the
// teacher's klient HTTP client rather than introducing an unfamiliar SDK).
type AzureProvider struct {
	vaultBaseURL string
	tokenSource  *clientcredentials.Config
	client       *klient.Client
}

func NewAzureProvider(tenantID, clientID, clientSecret, vaultBaseURL string) (*AzureProvider, error) {
	if vaultBaseURL == "" {
		return nil, fmt.Errorf("azure: vault_base_url is required")
	}

	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		Scopes:       []string{azureKeyVaultScope},
	}

	client, err := klient.New(
		klient.WithDisableBaseURLCheck(true),
		klient.WithLogger(slog.Default()),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, fmt.Errorf("azure: create http client: %w", err)
	}

	return &AzureProvider{vaultBaseURL: strings.TrimSuffix(vaultBaseURL, "/"), tokenSource: cc, client: client}, nil
}

func (p *AzureProvider) Name() string { return "azure" }

func (p *AzureProvider) CanHandle(ref string) bool {
	return strings.HasPrefix(ref, "azure://")
}

type azureSecretBundle struct {
	Value string `json:"value"`
}

func (p *AzureProvider) Resolve(ctx context.Context, ref string) (string, error) {
	vault, name, version, err := parseAzureRef(ref)
	if err != nil {
		return "", err
	}
	_ = vault // the target vault is identified by vaultBaseURL; the ref's vault segment documents intent

	url := fmt.Sprintf("%s/secrets/%s/%s?api-version=7.4", p.vaultBaseURL, name, version)

	token, err := p.tokenSource.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("azure: get token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("azure: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("azure: request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("azure: get secret %s: status %d", name, resp.StatusCode)
	}

	var bundle azureSecretBundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return "", fmt.Errorf("azure: decode response: %w", err)
	}

	return bundle.Value, nil
}

func (p *AzureProvider) TestConnection(ctx context.Context) error {
	_, err := p.tokenSource.Token(ctx)
	if err != nil {
		return fmt.Errorf("azure: token: %w", err)
	}
	return nil
}

func parseAzureRef(ref string) (vault, name, version string, err error) {
	rest := strings.TrimPrefix(ref, "azure://")
	version = ""
	if idx := strings.IndexByte(rest, '?'); idx >= 0 {
		if strings.Contains(rest[idx+1:], "version=") {
			version = strings.TrimPrefix(rest[idx+1:], "version=")
		}
		rest = rest[:idx]
	}

	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("azure: reference %q must be azure://vault/name", ref)
	}
	return parts[0], parts[1], version, nil
}
