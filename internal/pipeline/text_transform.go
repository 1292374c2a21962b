package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

type textTransformOpts struct {
	Action      string `opt:"action"`
	Search      string `opt:"search"`
	Replacement string `opt:"replacement"`
	Regex       bool   `opt:"regex"`
	Text        string `opt:"text"` // payload for prepend/append
}

type textTransformStage struct {
	opts    textTransformOpts
	pattern *regexp.Regexp
}

func init() {
	RegisterStageKind("text_transform", func(opts map[string]any) (Stage, error) {
		var o textTransformOpts
		if err := decodeOpts(opts, &o); err != nil {
			return nil, err
		}

		stage := &textTransformStage{opts: o}
		if o.Action == "replace" && o.Regex {
			pattern, err := regexp.Compile(o.Search)
			if err != nil {
				return nil, fmt.Errorf("text_transform: compile regex %q: %w", o.Search, err)
			}
			stage.pattern = pattern
		}
		return stage, nil
	})
}

func (s *textTransformStage) Name() string { return "text_transform" }

func (s *textTransformStage) Execute(ctx context.Context, mctx *Context, next Next) error {
	switch s.opts.Action {
	case "uppercase":
		mctx.Message.Text = strings.ToUpper(mctx.Message.Text)
	case "lowercase":
		mctx.Message.Text = strings.ToLower(mctx.Message.Text)
	case "capitalize":
		mctx.Message.Text = capitalize(mctx.Message.Text)
	case "trim":
		mctx.Message.Text = strings.TrimSpace(mctx.Message.Text)
	case "replace":
		if s.pattern != nil {
			mctx.Message.Text = s.pattern.ReplaceAllString(mctx.Message.Text, s.opts.Replacement)
		} else {
			mctx.Message.Text = strings.ReplaceAll(mctx.Message.Text, s.opts.Search, s.opts.Replacement)
		}
	case "prepend":
		mctx.Message.Text = s.opts.Text + mctx.Message.Text
	case "append":
		mctx.Message.Text = mctx.Message.Text + s.opts.Text
	default:
		return fmt.Errorf("text_transform: unknown action %q", s.opts.Action)
	}

	return next(ctx)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}
