package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/worldline-go/klient"
)

type imageDescriptionOpts struct {
	URL      string            `opt:"url"`
	Headers  map[string]string `opt:"headers"`
	Prompt   string            `opt:"prompt"`
	Fallback string            `opt:"fallback"` // continue|skip|use_filename
	Retries  int               `opt:"retries"`
	Backoff  time.Duration     `opt:"backoff"`
}

type imageDescriptionStage struct {
	opts   imageDescriptionOpts
	client *klient.Client
}

func init() {
	RegisterStageKind("image_description", func(opts map[string]any) (Stage, error) {
		var o imageDescriptionOpts
		if err := decodeOpts(opts, &o); err != nil {
			return nil, err
		}
		if o.URL == "" {
			return nil, fmt.Errorf("image_description: url is required")
		}
		if o.Fallback == "" {
			o.Fallback = "continue"
		}
		if o.Retries == 0 {
			o.Retries = 2
		}
		if o.Backoff == 0 {
			o.Backoff = 500 * time.Millisecond
		}

		client, err := klient.New(
			klient.WithDisableBaseURLCheck(true),
			klient.WithLogger(slog.Default()),
		)
		if err != nil {
			return nil, fmt.Errorf("image_description: create http client: %w", err)
		}

		return &imageDescriptionStage{opts: o, client: client}, nil
	})
}

func (s *imageDescriptionStage) Name() string { return "image_description" }

type visionRequest struct {
	Prompt string `json:"prompt"`
	Image  string `json:"image"`
}

type visionResponse struct {
	Description string `json:"description"`
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (s *imageDescriptionStage) describe(ctx context.Context, image []byte) (string, error) {
	payload, err := json.Marshal(visionRequest{
		Prompt: s.opts.Prompt,
		Image:  base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return "", fmt.Errorf("image_description: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(float64(s.opts.Backoff) * math.Pow(2, float64(attempt-1)))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.URL, bytes.NewReader(payload))
		if err != nil {
			return "", fmt.Errorf("image_description: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range s.opts.Headers {
			req.Header.Set(k, v)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			// network errors are retryable.
			lastErr = err
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			resp.Body.Close()
			lastErr = fmt.Errorf("image_description: status %d", resp.StatusCode)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("image_description: status %d", resp.StatusCode)
			resp.Body.Close()
			return "", err
		}

		var out visionResponse
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("image_description: decode response: %w", err)
		}
		return out.Description, nil
	}

	return "", lastErr
}

func (s *imageDescriptionStage) Execute(ctx context.Context, mctx *Context, next Next) error {
	for i := range mctx.Message.Attachments {
		a := &mctx.Message.Attachments[i]
		if a.Description != "" {
			continue
		}

		desc, err := s.describe(ctx, a.Data)
		if err != nil {
			slog.Warn("image_description: vision call failed", "provider", mctx.Provider, "error", err)
			switch s.opts.Fallback {
			case "skip":
				mctx.Skip = true
				mctx.SkipReason = fmt.Sprintf("image_description: %v", err)
				return nil
			case "use_filename":
				a.Description = a.Filename
			case "continue":
				// leave description empty.
			default:
				return fmt.Errorf("image_description: unknown fallback %q", s.opts.Fallback)
			}
			continue
		}

		a.Description = desc
	}

	return next(ctx)
}
