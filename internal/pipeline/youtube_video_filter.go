package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/worldline-go/klient"
)

var videoIDPattern = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/)([\w-]{6,})`)

type youtubeVideoFilterOpts struct {
	MinSeconds     int      `opt:"min_seconds"`
	MaxSeconds     int      `opt:"max_seconds"`
	IncludeTitles  []string `opt:"include_titles"`
	ExcludeTitles  []string `opt:"exclude_titles"`
	TitleRegex     bool     `opt:"title_regex"`
	CacheTTL       time.Duration `opt:"cache_ttl"`
	Action         string   `opt:"action"` // skip|continue
}

type videoMeta struct {
	title    string
	duration time.Duration
	cachedAt time.Time
}

type youtubeVideoFilterStage struct {
	opts   youtubeVideoFilterOpts
	client *klient.Client

	mu    sync.Mutex
	cache map[string]videoMeta
}

func init() {
	RegisterStageKind("youtube_video_filter", func(opts map[string]any) (Stage, error) {
		var o youtubeVideoFilterOpts
		if err := decodeOpts(opts, &o); err != nil {
			return nil, err
		}
		if o.Action == "" {
			o.Action = "skip"
		}
		if o.CacheTTL == 0 {
			o.CacheTTL = 30 * time.Minute
		}

		client, err := klient.New(
			klient.WithDisableBaseURLCheck(true),
			klient.WithLogger(slog.Default()),
		)
		if err != nil {
			return nil, fmt.Errorf("youtube_video_filter: create http client: %w", err)
		}

		return &youtubeVideoFilterStage{opts: o, client: client, cache: make(map[string]videoMeta)}, nil
	})
}

func (s *youtubeVideoFilterStage) Name() string { return "youtube_video_filter" }

type oEmbedResponse struct {
	Title string `json:"title"`
}

func (s *youtubeVideoFilterStage) fetchMeta(ctx context.Context, videoID string) (videoMeta, error) {
	watchURL := "https://www.youtube.com/watch?v=" + videoID

	title, err := s.fetchTitle(ctx, watchURL)
	if err != nil {
		return videoMeta{}, err
	}

	duration, err := s.fetchDuration(ctx, watchURL)
	if err != nil {
		return videoMeta{}, err
	}

	return videoMeta{title: title, duration: duration, cachedAt: time.Now()}, nil
}

func (s *youtubeVideoFilterStage) fetchTitle(ctx context.Context, watchURL string) (string, error) {
	oembedURL := "https://www.youtube.com/oembed?format=json&url=" + watchURL

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, oembedURL, nil)
	if err != nil {
		return "", fmt.Errorf("youtube_video_filter: build oembed request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("youtube_video_filter: oembed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("youtube_video_filter: oembed status %d", resp.StatusCode)
	}

	var out oEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("youtube_video_filter: decode oembed response: %w", err)
	}

	return out.Title, nil
}

var isoDurationPattern = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

func parseISODuration(s string) (time.Duration, error) {
	matches := isoDurationPattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("youtube_video_filter: unparseable duration %q", s)
	}

	var hours, minutes, seconds int
	if matches[1] != "" {
		hours, _ = strconv.Atoi(matches[1])
	}
	if matches[2] != "" {
		minutes, _ = strconv.Atoi(matches[2])
	}
	if matches[3] != "" {
		seconds, _ = strconv.Atoi(matches[3])
	}

	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second, nil
}

func (s *youtubeVideoFilterStage) fetchDuration(ctx context.Context, watchURL string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, watchURL, nil)
	if err != nil {
		return 0, fmt.Errorf("youtube_video_filter: build watch page request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("youtube_video_filter: watch page request: %w", err)
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("youtube_video_filter: parse watch page: %w", err)
	}

	content, exists := doc.Find(`meta[itemprop="duration"]`).Attr("content")
	if !exists {
		return 0, fmt.Errorf("youtube_video_filter: duration meta tag not found")
	}

	return parseISODuration(content)
}

func (s *youtubeVideoFilterStage) metaFor(ctx context.Context, videoID string) (videoMeta, error) {
	s.mu.Lock()
	cached, ok := s.cache[videoID]
	s.mu.Unlock()
	if ok && time.Since(cached.cachedAt) < s.opts.CacheTTL {
		return cached, nil
	}

	meta, err := s.fetchMeta(ctx, videoID)
	if err != nil {
		return videoMeta{}, err
	}

	s.mu.Lock()
	s.cache[videoID] = meta
	s.mu.Unlock()
	return meta, nil
}

func (s *youtubeVideoFilterStage) titleMatches(patterns []string, title string) (bool, error) {
	for _, p := range patterns {
		if s.opts.TitleRegex {
			re, err := regexp.Compile(p)
			if err != nil {
				return false, fmt.Errorf("youtube_video_filter: compile title regex %q: %w", p, err)
			}
			if re.MatchString(title) {
				return true, nil
			}
		} else if p == title {
			return true, nil
		}
	}
	return false, nil
}

func (s *youtubeVideoFilterStage) Execute(ctx context.Context, mctx *Context, next Next) error {
	match := videoIDPattern.FindStringSubmatch(mctx.Message.Text)
	if match == nil {
		return next(ctx)
	}
	videoID := match[1]

	meta, err := s.metaFor(ctx, videoID)
	if err != nil {
		// the filter fails open: a lookup failure never blocks dispatch.
		slog.Warn("youtube_video_filter: metadata lookup failed", "video_id", videoID, "error", err)
		return next(ctx)
	}

	blocked := false
	reason := ""

	if s.opts.MinSeconds > 0 && meta.duration < time.Duration(s.opts.MinSeconds)*time.Second {
		blocked, reason = true, "youtube_video_filter: duration below min_seconds"
	}
	if s.opts.MaxSeconds > 0 && meta.duration > time.Duration(s.opts.MaxSeconds)*time.Second {
		blocked, reason = true, "youtube_video_filter: duration above max_seconds"
	}

	if !blocked && len(s.opts.ExcludeTitles) > 0 {
		matched, err := s.titleMatches(s.opts.ExcludeTitles, meta.title)
		if err != nil {
			slog.Warn("youtube_video_filter: title match failed", "error", err)
		} else if matched {
			blocked, reason = true, "youtube_video_filter: title matched exclude_titles"
		}
	}

	if !blocked && len(s.opts.IncludeTitles) > 0 {
		matched, err := s.titleMatches(s.opts.IncludeTitles, meta.title)
		if err != nil {
			slog.Warn("youtube_video_filter: title match failed", "error", err)
		} else if !matched {
			blocked, reason = true, "youtube_video_filter: title did not match include_titles"
		}
	}

	mctx.Scratch["youtube_video_title"] = meta.title
	mctx.Scratch["youtube_video_duration_seconds"] = int(meta.duration.Seconds())

	if blocked && s.opts.Action == "skip" {
		mctx.Skip = true
		mctx.SkipReason = reason
		return nil
	}

	return next(ctx)
}
