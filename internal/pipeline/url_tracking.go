package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

type urlTrackingOpts struct {
	UTMSource   string   `opt:"utm_source"`
	UTMMedium   string   `opt:"utm_medium"`
	UTMCampaign string   `opt:"utm_campaign"`
	RewriteHTML bool     `opt:"rewrite_html"`
	AllowDomains []string `opt:"allow_domains"`
	DenyDomains  []string `opt:"deny_domains"`
	SkipExistingUTM bool  `opt:"skip_existing_utm"`
}

type urlTrackingStage struct {
	opts urlTrackingOpts
}

func init() {
	RegisterStageKind("url_tracking", func(opts map[string]any) (Stage, error) {
		var o urlTrackingOpts
		if err := decodeOpts(opts, &o); err != nil {
			return nil, err
		}
		return &urlTrackingStage{opts: o}, nil
	})
}

func (s *urlTrackingStage) Name() string { return "url_tracking" }

func (s *urlTrackingStage) domainAllowed(host string) bool {
	if len(s.opts.DenyDomains) > 0 {
		for _, d := range s.opts.DenyDomains {
			if strings.EqualFold(d, host) {
				return false
			}
		}
	}
	if len(s.opts.AllowDomains) > 0 {
		for _, d := range s.opts.AllowDomains {
			if strings.EqualFold(d, host) {
				return true
			}
		}
		return false
	}
	return true
}

// track appends the configured UTM params to raw and returns the
// normalized URL string. If the URL already carries UTM params and
// skip_existing_utm is set, raw is returned unchanged.
func (s *urlTrackingStage) track(raw string) (normalized string, changed bool, err error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw, false, fmt.Errorf("url_tracking: parse %q: %w", raw, err)
	}

	if !s.domainAllowed(parsed.Hostname()) {
		return raw, false, nil
	}

	query := parsed.Query()
	if s.opts.SkipExistingUTM && query.Get("utm_source") != "" {
		return raw, false, nil
	}

	if s.opts.UTMSource != "" {
		query.Set("utm_source", s.opts.UTMSource)
	}
	if s.opts.UTMMedium != "" {
		query.Set("utm_medium", s.opts.UTMMedium)
	}
	if s.opts.UTMCampaign != "" {
		query.Set("utm_campaign", s.opts.UTMCampaign)
	}
	parsed.RawQuery = query.Encode()

	return parsed.String(), true, nil
}

func (s *urlTrackingStage) Execute(ctx context.Context, mctx *Context, next Next) error {
	var firstErr error

	mctx.Message.Text = urlPattern.ReplaceAllStringFunc(mctx.Message.Text, func(original string) string {
		if firstErr != nil {
			return original
		}

		normalized, changed, err := s.track(original)
		if err != nil {
			firstErr = err
			return original
		}
		if !changed {
			return original
		}

		if s.opts.RewriteHTML {
			// anchor href carries the tracked URL; the visible text keeps
			// the original so readers see the link they expect.
			return fmt.Sprintf(`<a href="%s">%s</a>`, normalized, original)
		}
		return normalized
	})

	if firstErr != nil {
		return firstErr
	}

	return next(ctx)
}
