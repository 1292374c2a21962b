package pipeline

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

type predicateOpts struct {
	Field   string `opt:"field"` // text|length|time|provider|accounts|scratch|env
	Path    string `opt:"path"`  // dot-path into Scratch, or env var name, when Field needs one
	Op      string `opt:"op"`    // equals|contains|matches|gt|lt|in
	Value   string `opt:"value"`
	Values  []string `opt:"values"`
}

type conditionalOpts struct {
	Combine    string          `opt:"combine"` // and|or
	Invert     bool            `opt:"invert"`
	Predicates []predicateOpts `opt:"predicates"`
	Action     string          `opt:"action"` // skip|continue
	Reason     string          `opt:"reason"`
}

type conditionalStage struct {
	opts conditionalOpts
}

func init() {
	RegisterStageKind("conditional", func(opts map[string]any) (Stage, error) {
		var o conditionalOpts
		if err := decodeOpts(opts, &o); err != nil {
			return nil, err
		}
		if o.Combine == "" {
			o.Combine = "and"
		}
		if o.Action == "" {
			o.Action = "skip"
		}
		return &conditionalStage{opts: o}, nil
	})
}

func (s *conditionalStage) Name() string { return "conditional" }

func fieldValue(mctx *Context, p predicateOpts) (string, bool) {
	switch p.Field {
	case "text":
		return mctx.Message.Text, true
	case "length":
		return fmt.Sprintf("%d", len([]rune(mctx.Message.Text))), true
	case "time":
		return time.Now().UTC().Format(time.RFC3339), true
	case "provider":
		return mctx.Provider, true
	case "accounts":
		return strings.Join(mctx.Accounts, ","), true
	case "scratch":
		var cur any = map[string]any(mctx.Scratch)
		for _, key := range strings.Split(p.Path, ".") {
			m, isMap := cur.(map[string]any)
			if !isMap {
				return "", false
			}
			next, found := m[key]
			if !found {
				return "", false
			}
			cur = next
		}
		return fmt.Sprintf("%v", cur), true
	case "env":
		return os.LookupEnv(p.Path)
	default:
		return "", false
	}
}

func evaluatePredicate(mctx *Context, p predicateOpts) (bool, error) {
	value, ok := fieldValue(mctx, p)
	if !ok {
		return false, nil
	}

	switch p.Op {
	case "equals":
		return value == p.Value, nil
	case "contains":
		return strings.Contains(value, p.Value), nil
	case "matches":
		re, err := regexp.Compile(p.Value)
		if err != nil {
			return false, fmt.Errorf("conditional: compile regex %q: %w", p.Value, err)
		}
		return re.MatchString(value), nil
	case "gt":
		return value > p.Value, nil
	case "lt":
		return value < p.Value, nil
	case "in":
		for _, v := range p.Values {
			if v == value {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("conditional: unknown op %q", p.Op)
	}
}

func (s *conditionalStage) evaluate(mctx *Context) (bool, error) {
	if len(s.opts.Predicates) == 0 {
		return true, nil
	}

	switch s.opts.Combine {
	case "and":
		for _, p := range s.opts.Predicates {
			ok, err := evaluatePredicate(mctx, p)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case "or":
		for _, p := range s.opts.Predicates {
			ok, err := evaluatePredicate(mctx, p)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("conditional: unknown combine %q", s.opts.Combine)
	}
}

func (s *conditionalStage) Execute(ctx context.Context, mctx *Context, next Next) error {
	result, err := s.evaluate(mctx)
	if err != nil {
		return err
	}
	if s.opts.Invert {
		result = !result
	}

	if result && s.opts.Action == "skip" {
		mctx.Skip = true
		reason := s.opts.Reason
		if reason == "" {
			reason = "conditional: condition matched"
		}
		mctx.SkipReason = reason
		return nil
	}

	return next(ctx)
}
