package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/worldline-go/klient"
)

// MastodonClient posts to any Mastodon-family server (Mastodon, Pleroma,
// Akkoma, GoToSocial all share the v1 statuses/media API shape).
type MastodonClient struct {
	baseURL     string
	accessToken string
	client      *klient.Client
}

func NewMastodonClient(baseURL, accessToken string) (*MastodonClient, error) {
	client, err := klient.New(
		klient.WithDisableBaseURLCheck(true),
		klient.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("mastodon: create http client: %w", err)
	}

	return &MastodonClient{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: accessToken,
		client:      client,
	}, nil
}

type mastodonMediaResponse struct {
	ID string `json:"id"`
}

func (c *MastodonClient) uploadMedia(ctx context.Context, a Attachment) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", attachmentFilename(a))
	if err != nil {
		return "", fmt.Errorf("mastodon: create form file: %w", err)
	}
	if _, err := part.Write(a.Data); err != nil {
		return "", fmt.Errorf("mastodon: write attachment data: %w", err)
	}
	if a.Description != "" {
		_ = writer.WriteField("description", a.Description)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("mastodon: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/media", &body)
	if err != nil {
		return "", fmt.Errorf("mastodon: build media request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mastodon: media upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("mastodon: media upload status %d", resp.StatusCode)
	}

	var out mastodonMediaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("mastodon: decode media response: %w", err)
	}

	return out.ID, nil
}

type mastodonStatusResponse struct {
	ID string `json:"id"`
}

func (c *MastodonClient) PostStatus(ctx context.Context, text string, attachments []Attachment, visibility Visibility) (string, error) {
	mediaIDs := make([]string, 0, len(attachments))
	for _, a := range attachments {
		id, err := c.uploadMedia(ctx, a)
		if err != nil {
			return "", err
		}
		mediaIDs = append(mediaIDs, id)
	}

	form := make(map[string]any, 3)
	form["status"] = text
	if visibility != "" {
		form["visibility"] = string(visibility)
	}
	if len(mediaIDs) > 0 {
		form["media_ids"] = mediaIDs
	}

	payload, err := json.Marshal(form)
	if err != nil {
		return "", fmt.Errorf("mastodon: marshal status: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/statuses", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("mastodon: build status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mastodon: post status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("mastodon: post status: status %d", resp.StatusCode)
	}

	var out mastodonStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("mastodon: decode status response: %w", err)
	}

	return out.ID, nil
}

type mastodonAccountResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

func (c *MastodonClient) VerifyCredentials(ctx context.Context) (Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/accounts/verify_credentials", nil)
	if err != nil {
		return Info{}, fmt.Errorf("mastodon: build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return Info{}, fmt.Errorf("mastodon: verify credentials request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Info{}, fmt.Errorf("mastodon: verify credentials: status %d", resp.StatusCode)
	}

	var out mastodonAccountResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Info{}, fmt.Errorf("mastodon: decode verify response: %w", err)
	}

	return Info{ID: out.ID, Username: out.Username, DisplayName: out.DisplayName}, nil
}

func attachmentFilename(a Attachment) string {
	if a.Filename != "" {
		return a.Filename
	}
	return "attachment-" + strconv.FormatInt(int64(len(a.Data)), 10)
}
