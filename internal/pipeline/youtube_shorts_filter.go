package pipeline

import (
	"context"
	"regexp"
	"strings"
)

var (
	shortsURLPattern    = regexp.MustCompile(`(?i)youtube\.com/shorts/[\w-]+|youtu\.be/shorts/[\w-]+`)
	shortsKeywordPattern = regexp.MustCompile(`(?i)\bshorts?\b`)
)

type youtubeShortsFilterOpts struct {
	Action string `opt:"action"` // skip|continue
	Reason string `opt:"reason"`
}

type youtubeShortsFilterStage struct {
	opts youtubeShortsFilterOpts
}

func init() {
	RegisterStageKind("youtube_shorts_filter", func(opts map[string]any) (Stage, error) {
		var o youtubeShortsFilterOpts
		if err := decodeOpts(opts, &o); err != nil {
			return nil, err
		}
		if o.Action == "" {
			o.Action = "skip"
		}
		return &youtubeShortsFilterStage{opts: o}, nil
	})
}

func (s *youtubeShortsFilterStage) Name() string { return "youtube_shorts_filter" }

func isShorts(text string) bool {
	if shortsURLPattern.MatchString(text) {
		return true
	}
	// a youtube.com/watch URL counts too when the word "shorts" appears
	// anywhere in the same text; the distance between the two is not
	// checked.
	return strings.Contains(strings.ToLower(text), "youtube.com/watch") && shortsKeywordPattern.MatchString(text)
}

func (s *youtubeShortsFilterStage) Execute(ctx context.Context, mctx *Context, next Next) error {
	if isShorts(mctx.Message.Text) {
		mctx.Scratch["youtube_is_shorts"] = true
		if s.opts.Action == "skip" {
			reason := s.opts.Reason
			if reason == "" {
				reason = "youtube_shorts_filter: message references a Shorts video"
			}
			mctx.Skip = true
			mctx.SkipReason = reason
			return nil
		}
	}

	return next(ctx)
}
