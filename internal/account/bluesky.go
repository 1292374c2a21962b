package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/worldline-go/klient"
)

// BlueskyClient posts via the AT Protocol's XRPC HTTP API
// (com.atproto.server.createSession + com.atproto.repo.createRecord),
// authenticating with a handle + app password exchanged for a session.
type BlueskyClient struct {
	baseURL    string
	identifier string
	password   string
	client     *klient.Client

	mu      sync.Mutex
	session *blueskySession
}

type blueskySession struct {
	AccessJWT string
	DID       string
	expiresAt time.Time
}

func NewBlueskyClient(baseURL, identifier, password string) (*BlueskyClient, error) {
	client, err := klient.New(
		klient.WithDisableBaseURLCheck(true),
		klient.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("bluesky: create http client: %w", err)
	}
	if baseURL == "" {
		baseURL = "https://bsky.social"
	}

	return &BlueskyClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		identifier: identifier,
		password:   password,
		client:     client,
	}, nil
}

type blueskyCreateSessionResponse struct {
	AccessJwt string `json:"accessJwt"`
	Did       string `json:"did"`
}

func (c *BlueskyClient) ensureSession(ctx context.Context) (*blueskySession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && time.Now().Before(c.session.expiresAt) {
		return c.session, nil
	}

	payload, _ := json.Marshal(map[string]string{
		"identifier": c.identifier,
		"password":   c.password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/xrpc/com.atproto.server.createSession", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("bluesky: build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bluesky: create session request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bluesky: create session: status %d", resp.StatusCode)
	}

	var out blueskyCreateSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("bluesky: decode session response: %w", err)
	}

	// Bluesky access JWTs are typically valid ~2h; refresh proactively.
	c.session = &blueskySession{AccessJWT: out.AccessJwt, DID: out.Did, expiresAt: time.Now().Add(90 * time.Minute)}
	return c.session, nil
}

type blueskyUploadBlobResponse struct {
	Blob json.RawMessage `json:"blob"`
}

func (c *BlueskyClient) uploadBlob(ctx context.Context, session *blueskySession, a Attachment) (json.RawMessage, error) {
	mimeType := a.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/xrpc/com.atproto.repo.uploadBlob", bytes.NewReader(a.Data))
	if err != nil {
		return nil, fmt.Errorf("bluesky: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Authorization", "Bearer "+session.AccessJWT)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bluesky: upload blob request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bluesky: upload blob: status %d", resp.StatusCode)
	}

	var out blueskyUploadBlobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("bluesky: decode upload response: %w", err)
	}

	return out.Blob, nil
}

type blueskyCreateRecordResponse struct {
	URI string `json:"uri"`
}

// PostStatus creates a Bluesky post. The visibility argument is ignored:
// AT Protocol has no native unlisted/private/direct post visibility, so
// every post is created as a normal public record.
func (c *BlueskyClient) PostStatus(ctx context.Context, text string, attachments []Attachment, _ Visibility) (string, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return "", err
	}

	record := map[string]any{
		"$type":     "app.bsky.feed.post",
		"text":      text,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}

	if len(attachments) > 0 {
		images := make([]map[string]any, 0, len(attachments))
		for _, a := range attachments {
			blob, err := c.uploadBlob(ctx, session, a)
			if err != nil {
				return "", err
			}
			images = append(images, map[string]any{
				"alt":   a.Description,
				"image": json.RawMessage(blob),
			})
		}
		record["embed"] = map[string]any{
			"$type":  "app.bsky.embed.images",
			"images": images,
		}
	}

	body := map[string]any{
		"repo":       session.DID,
		"collection": "app.bsky.feed.post",
		"record":     record,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("bluesky: marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/xrpc/com.atproto.repo.createRecord", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("bluesky: build create record request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+session.AccessJWT)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("bluesky: create record request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bluesky: create record: status %d", resp.StatusCode)
	}

	var out blueskyCreateRecordResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("bluesky: decode create record response: %w", err)
	}

	return out.URI, nil
}

func (c *BlueskyClient) VerifyCredentials(ctx context.Context) (Info, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return Info{}, err
	}
	return Info{ID: session.DID, Username: c.identifier}, nil
}
