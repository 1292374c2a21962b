package secret

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// FileProvider resolves "file://path" references by reading the file and
// trimming trailing whitespace. Path may be absolute or relative.
type FileProvider struct{}

func NewFileProvider() *FileProvider { return &FileProvider{} }

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) CanHandle(ref string) bool {
	return strings.HasPrefix(ref, "file://")
}

func (p *FileProvider) Resolve(_ context.Context, ref string) (string, error) {
	path := strings.TrimPrefix(ref, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("file: read %s: %w", path, err)
	}
	return strings.TrimRight(string(data), " \t\r\n"), nil
}

func (p *FileProvider) TestConnection(_ context.Context) error { return nil }
