package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/feathermark/crosspost/internal/template"
)

type templateStageOpts struct {
	Template string         `opt:"template"`
	Source   string         `opt:"source"` // static|context|metadata|env
	Data     map[string]any `opt:"data"`   // for source=static
	EnvPrefix string        `opt:"env_prefix"`
	Strict   bool           `opt:"strict"`
}

type templateStage struct {
	opts templateStageOpts
}

func init() {
	RegisterStageKind("template", func(opts map[string]any) (Stage, error) {
		var o templateStageOpts
		if err := decodeOpts(opts, &o); err != nil {
			return nil, err
		}
		if o.Source == "" {
			o.Source = "context"
		}
		return &templateStage{opts: o}, nil
	})
}

func (s *templateStage) Name() string { return "template" }

func (s *templateStage) Execute(ctx context.Context, mctx *Context, next Next) error {
	data, err := s.buildData(mctx)
	if err != nil {
		return fmt.Errorf("template: build data source %q: %w", s.opts.Source, err)
	}

	rendered, err := template.Render(s.opts.Template, data, s.opts.Strict)
	if err != nil {
		return fmt.Errorf("template: render: %w", err)
	}

	mctx.Message.Text = rendered
	return next(ctx)
}

func (s *templateStage) buildData(mctx *Context) ([]byte, error) {
	switch s.opts.Source {
	case "static":
		return json.Marshal(s.opts.Data)
	case "context":
		return json.Marshal(map[string]any{
			"provider":     mctx.Provider,
			"accounts":     mctx.Accounts,
			"visibility":   string(mctx.Visibility),
			"text":         mctx.Message.Text,
			"originalText": mctx.OriginalText,
		})
	case "metadata":
		return json.Marshal(map[string]any{
			"timestamp":    mctx.StartedAt.Format(time.RFC3339),
			"accountCount": len(mctx.Accounts),
		})
	case "env":
		envMap := map[string]string{}
		for _, kv := range os.Environ() {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				continue
			}
			if s.opts.EnvPrefix != "" && !strings.HasPrefix(parts[0], s.opts.EnvPrefix) {
				continue
			}
			key := strings.TrimPrefix(parts[0], s.opts.EnvPrefix)
			envMap[key] = parts[1]
		}
		return json.Marshal(envMap)
	default:
		return nil, fmt.Errorf("unknown source %q", s.opts.Source)
	}
}
