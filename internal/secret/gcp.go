package secret

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/worldline-go/klient"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const gcpScope = "https://www.googleapis.com/auth/cloud-platform"

// GCPProvider resolves "gcp://project/name[?version=V]" references against
// Google Secret Manager's REST API, authenticating with Application
// Default Credentials the same way the teacher's Vertex AI client does.
type GCPProvider struct {
	tokenSource oauth2.TokenSource
	client      *klient.Client
}

func NewGCPProvider(ctx context.Context) (*GCPProvider, error) {
	ts, err := google.DefaultTokenSource(ctx, gcpScope)
	if err != nil {
		return nil, fmt.Errorf("gcp: default token source (set GOOGLE_APPLICATION_CREDENTIALS or run on GCE): %w", err)
	}

	client, err := klient.New(
		klient.WithDisableBaseURLCheck(true),
		klient.WithLogger(slog.Default()),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, fmt.Errorf("gcp: create http client: %w", err)
	}

	return &GCPProvider{tokenSource: ts, client: client}, nil
}

func (p *GCPProvider) Name() string { return "gcp" }

func (p *GCPProvider) CanHandle(ref string) bool {
	return strings.HasPrefix(ref, "gcp://")
}

type gcpAccessSecretVersionResponse struct {
	Payload struct {
		Data string `json:"data"`
	} `json:"payload"`
}

func (p *GCPProvider) Resolve(ctx context.Context, ref string) (string, error) {
	project, name, version, err := parseGCPRef(ref)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("https://secretmanager.googleapis.com/v1/projects/%s/secrets/%s/versions/%s:access", project, name, version)

	token, err := p.tokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("gcp: get token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("gcp: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gcp: request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gcp: access secret %s/%s: status %d", project, name, resp.StatusCode)
	}

	var out gcpAccessSecretVersionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gcp: decode response: %w", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(out.Payload.Data)
	if err != nil {
		return "", fmt.Errorf("gcp: decode payload: %w", err)
	}

	return string(decoded), nil
}

func (p *GCPProvider) TestConnection(ctx context.Context) error {
	_, err := p.tokenSource.Token()
	if err != nil {
		return fmt.Errorf("gcp: token source: %w", err)
	}
	return nil
}

func parseGCPRef(ref string) (project, name, version string, err error) {
	rest := strings.TrimPrefix(ref, "gcp://")
	version = "latest"
	if idx := strings.IndexByte(rest, '?'); idx >= 0 {
		if strings.Contains(rest[idx+1:], "version=") {
			version = strings.TrimPrefix(rest[idx+1:], "version=")
		}
		rest = rest[:idx]
	}

	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("gcp: reference %q must be gcp://project/name", ref)
	}
	return parts[0], parts[1], version, nil
}
