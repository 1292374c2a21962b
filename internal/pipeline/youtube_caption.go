package pipeline

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/worldline-go/klient"
)

type youtubeCaptionOpts struct {
	Lang string `opt:"lang"`
	Mode string `opt:"mode"` // replace|prepend|append
}

type youtubeCaptionStage struct {
	opts   youtubeCaptionOpts
	client *klient.Client
}

func init() {
	RegisterStageKind("youtube_caption", func(opts map[string]any) (Stage, error) {
		var o youtubeCaptionOpts
		if err := decodeOpts(opts, &o); err != nil {
			return nil, err
		}
		if o.Lang == "" {
			o.Lang = "en"
		}
		if o.Mode == "" {
			o.Mode = "append"
		}

		client, err := klient.New(klient.WithDisableBaseURLCheck(true))
		if err != nil {
			return nil, fmt.Errorf("youtube_caption: create http client: %w", err)
		}

		return &youtubeCaptionStage{opts: o, client: client}, nil
	})
}

func (s *youtubeCaptionStage) Name() string { return "youtube_caption" }

type timedTextDoc struct {
	Texts []timedTextLine `xml:"text"`
}

type timedTextLine struct {
	Text string `xml:",chardata"`
}

var whitespacePattern = regexp.MustCompile(`\s+`)

func normalizeCaption(lines []timedTextLine) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		text := strings.TrimSpace(l.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	joined := strings.Join(parts, " ")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(joined, " "))
}

func (s *youtubeCaptionStage) fetchCaption(ctx context.Context, videoID string) (string, error) {
	url := fmt.Sprintf("https://www.youtube.com/api/timedtext?v=%s&lang=%s", videoID, s.opts.Lang)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("youtube_caption: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("youtube_caption: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("youtube_caption: read response: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", fmt.Errorf("youtube_caption: no captions available for %s", videoID)
	}

	var doc timedTextDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("youtube_caption: parse timedtext xml: %w", err)
	}

	return normalizeCaption(doc.Texts), nil
}

func (s *youtubeCaptionStage) Execute(ctx context.Context, mctx *Context, next Next) error {
	match := videoIDPattern.FindStringSubmatch(mctx.Message.Text)
	if match == nil {
		return next(ctx)
	}

	caption, err := s.fetchCaption(ctx, match[1])
	if err != nil {
		return fmt.Errorf("youtube_caption: %w", err)
	}

	switch s.opts.Mode {
	case "replace":
		mctx.Message.Text = caption
	case "prepend":
		mctx.Message.Text = caption + "\n\n" + mctx.Message.Text
	case "append":
		mctx.Message.Text = mctx.Message.Text + "\n\n" + caption
	default:
		return fmt.Errorf("youtube_caption: unknown mode %q", s.opts.Mode)
	}

	return next(ctx)
}
