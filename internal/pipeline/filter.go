package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
)

type filterOpts struct {
	Condition string `opt:"condition"` // contains|not_contains|starts_with|ends_with|regex|length|empty
	Value     string `opt:"value"`
	Pattern   string `opt:"pattern"`
	Flags     string `opt:"flags"`
	Min       int    `opt:"min"`
	Max       int    `opt:"max"`
	Action    string `opt:"action"` // skip|continue
	Reason    string `opt:"reason"`
}

type filterStage struct {
	opts    filterOpts
	pattern *regexp2.Regexp
}

func init() {
	RegisterStageKind("filter", func(opts map[string]any) (Stage, error) {
		var o filterOpts
		if err := decodeOpts(opts, &o); err != nil {
			return nil, err
		}
		if o.Action == "" {
			o.Action = "skip"
		}

		stage := &filterStage{opts: o}
		if o.Condition == "regex" {
			// dlclark/regexp2 supports inline-flag-capable regex beyond Go's
			// RE2 engine, which the teacher's stack already carries as an
			// indirect dependency.
			flags := regexp2.None
			if strings.Contains(o.Flags, "i") {
				flags |= regexp2.IgnoreCase
			}
			if strings.Contains(o.Flags, "s") {
				flags |= regexp2.Singleline
			}
			pattern, err := regexp2.Compile(o.Pattern, flags)
			if err != nil {
				return nil, fmt.Errorf("filter: compile regex %q: %w", o.Pattern, err)
			}
			stage.pattern = pattern
		}
		return stage, nil
	})
}

func (s *filterStage) Name() string { return "filter" }

func (s *filterStage) matches(text string) (bool, error) {
	switch s.opts.Condition {
	case "contains":
		return strings.Contains(text, s.opts.Value), nil
	case "not_contains":
		return !strings.Contains(text, s.opts.Value), nil
	case "starts_with":
		return strings.HasPrefix(text, s.opts.Value), nil
	case "ends_with":
		return strings.HasSuffix(text, s.opts.Value), nil
	case "regex":
		ok, err := s.pattern.MatchString(text)
		if err != nil {
			return false, fmt.Errorf("filter: regex match: %w", err)
		}
		return ok, nil
	case "length":
		n := len([]rune(text))
		if s.opts.Min > 0 && n < s.opts.Min {
			return false, nil
		}
		if s.opts.Max > 0 && n > s.opts.Max {
			return false, nil
		}
		return true, nil
	case "empty":
		return strings.TrimSpace(text) == "", nil
	default:
		return false, fmt.Errorf("filter: unknown condition %q", s.opts.Condition)
	}
}

func (s *filterStage) Execute(ctx context.Context, mctx *Context, next Next) error {
	matched, err := s.matches(mctx.Message.Text)
	if err != nil {
		return err
	}

	mctx.Scratch["filter_matched"] = matched

	if matched && s.opts.Action == "skip" {
		mctx.Skip = true
		reason := s.opts.Reason
		if reason == "" {
			reason = fmt.Sprintf("filter: condition %q matched", s.opts.Condition)
		}
		mctx.SkipReason = reason
		return nil
	}

	return next(ctx)
}
