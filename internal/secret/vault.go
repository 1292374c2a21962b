package secret

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"
)

// VaultProvider resolves "vault://path[?key=field]" references against a
// HashiCorp Vault KV store, grounded on the same client library the
// teacher's config loader already pulls in for loadervault.
type VaultProvider struct {
	client *vaultapi.Client
}

func NewVaultProvider(address, token string) (*VaultProvider, error) {
	cfg := vaultapi.DefaultConfig()
	if address != "" {
		cfg.Address = address
	}
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault: new client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}
	return &VaultProvider{client: client}, nil
}

func (p *VaultProvider) Name() string { return "vault" }

func (p *VaultProvider) CanHandle(ref string) bool {
	return strings.HasPrefix(ref, "vault://")
}

func (p *VaultProvider) Resolve(ctx context.Context, ref string) (string, error) {
	path, key, err := parseVaultRef(ref)
	if err != nil {
		return "", err
	}

	secret, err := p.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("vault: read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("vault: no secret at %s", path)
	}

	data := secret.Data
	// KV-v2 engines nest fields under "data".
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	fields := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}

	return selectField(fields, key)
}

func (p *VaultProvider) TestConnection(ctx context.Context) error {
	_, err := p.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault: health check: %w", err)
	}
	return nil
}

func parseVaultRef(ref string) (path, key string, err error) {
	rest := strings.TrimPrefix(ref, "vault://")
	path = rest
	if idx := strings.IndexByte(rest, '?'); idx >= 0 {
		path = rest[:idx]
		q, perr := url.ParseQuery(rest[idx+1:])
		if perr != nil {
			return "", "", fmt.Errorf("vault: parse query: %w", perr)
		}
		key = q.Get("key")
	}
	if path == "" {
		return "", "", fmt.Errorf("vault: reference %q missing path", ref)
	}
	return path, key, nil
}
