package secret

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider resolves "${NAME}" references from the process environment.
type EnvProvider struct{}

func NewEnvProvider() *EnvProvider { return &EnvProvider{} }

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) CanHandle(ref string) bool {
	return strings.HasPrefix(ref, "${") && strings.HasSuffix(ref, "}")
}

func (p *EnvProvider) Resolve(_ context.Context, ref string) (string, error) {
	name := strings.TrimSuffix(strings.TrimPrefix(ref, "${"), "}")
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("env: variable %q is not set", name)
	}
	return value, nil
}

func (p *EnvProvider) TestConnection(_ context.Context) error { return nil }
