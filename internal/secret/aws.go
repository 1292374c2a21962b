package secret

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AWSProvider resolves "aws://name[?key=field&region=R]" references against
// AWS Secrets Manager. Secrets are expected to be JSON objects; the
// key-selection rule is shared with vault:// via selectField.
type AWSProvider struct {
	defaultRegion string
	clientFor     func(region string) (*secretsmanager.Client, error)
}

func NewAWSProvider(ctx context.Context, defaultRegion string) (*AWSProvider, error) {
	return &AWSProvider{
		defaultRegion: defaultRegion,
		clientFor: func(region string) (*secretsmanager.Client, error) {
			cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
			if err != nil {
				return nil, fmt.Errorf("aws: load config: %w", err)
			}
			return secretsmanager.NewFromConfig(cfg), nil
		},
	}, nil
}

func (p *AWSProvider) Name() string { return "aws" }

func (p *AWSProvider) CanHandle(ref string) bool {
	return strings.HasPrefix(ref, "aws://")
}

func (p *AWSProvider) Resolve(ctx context.Context, ref string) (string, error) {
	name, key, region, err := parseAWSRef(ref, p.defaultRegion)
	if err != nil {
		return "", err
	}

	client, err := p.clientFor(region)
	if err != nil {
		return "", err
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &name})
	if err != nil {
		return "", fmt.Errorf("aws: get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("aws: secret %s has no string value", name)
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &fields); err != nil {
		// Not a JSON object: treat the whole string as the value, unless an
		// explicit key was requested (which can't be satisfied then).
		if key != "" {
			return "", fmt.Errorf("aws: secret %s is not a JSON object, cannot select key %q", name, key)
		}
		return *out.SecretString, nil
	}

	return selectField(fields, key)
}

func (p *AWSProvider) TestConnection(ctx context.Context) error {
	client, err := p.clientFor(p.defaultRegion)
	if err != nil {
		return err
	}
	_, err = client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{MaxResults: awsInt32(1)})
	if err != nil {
		return fmt.Errorf("aws: list secrets: %w", err)
	}
	return nil
}

func awsInt32(v int32) *int32 { return &v }

func parseAWSRef(ref, defaultRegion string) (name, key, region string, err error) {
	rest := strings.TrimPrefix(ref, "aws://")
	name = rest
	region = defaultRegion
	if idx := strings.IndexByte(rest, '?'); idx >= 0 {
		name = rest[:idx]
		q, perr := url.ParseQuery(rest[idx+1:])
		if perr != nil {
			return "", "", "", fmt.Errorf("aws: parse query: %w", perr)
		}
		key = q.Get("key")
		if r := q.Get("region"); r != "" {
			region = r
		}
	}
	if name == "" {
		return "", "", "", fmt.Errorf("aws: reference %q missing secret name", ref)
	}
	return name, key, region, nil
}
