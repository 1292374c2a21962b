package provider

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/feathermark/crosspost/internal/cache"
	"github.com/worldline-go/klient"
	"golang.org/x/net/html/charset"
)

// RSSFeedProvider fetches an RSS/Atom URL and yields every item not yet
// seen, using the same processed-item cache mechanism as
// MultiJSONProvider (dedup by item GUID, Atom id or link, marked processed only
// after a successful dispatch).
type RSSFeedProvider struct {
	name    string
	url     string
	timeout time.Duration

	client *klient.Client
	cache  *cache.Set
}

func NewRSSFeedProvider(name, url string, timeout time.Duration, processedCache *cache.Set) (*RSSFeedProvider, error) {
	client, err := klient.New(
		klient.WithDisableBaseURLCheck(true),
		klient.WithLogger(slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("rssfeed provider %s: create http client: %w", name, err)
	}

	return &RSSFeedProvider{name: name, url: url, timeout: timeout, client: client, cache: processedCache}, nil
}

func (p *RSSFeedProvider) Name() string { return p.name }

func (p *RSSFeedProvider) MarkProcessed(id string) error {
	p.cache.Add(id)
	return p.cache.Persist()
}

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	// Atom feeds use <entry> at the root instead of <channel><item>.
	Entries []rssItem `xml:"entry"`
}

type rssItem struct {
	GUID  string `xml:"guid"`
	ID    string `xml:"id"`
	Link  string `xml:"link"`
	Title string `xml:"title"`
}

func (i rssItem) id() string {
	if i.GUID != "" {
		return i.GUID
	}
	if i.ID != "" {
		return i.ID
	}
	return i.Link
}

// decodeToUTF8 transcodes body to UTF-8 following the spec's detection
// order: HTTP Content-Type charset, then XML declaration, then a UTF-8
// BOM, falling back to assuming UTF-8 already.
func decodeToUTF8(body []byte, contentType string) ([]byte, error) {
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			if cs := params["charset"]; cs != "" && !strings.EqualFold(cs, "utf-8") {
				return transcode(body, cs)
			}
		}
	}

	if decl := xmlDeclarationCharset(body); decl != "" && !strings.EqualFold(decl, "utf-8") {
		return transcode(body, decl)
	}

	if bytes.HasPrefix(body, []byte{0xEF, 0xBB, 0xBF}) {
		return bytes.TrimPrefix(body, []byte{0xEF, 0xBB, 0xBF}), nil
	}

	if !utf8.Valid(body) {
		// already fell through every detection rule; treat as UTF-8 anyway
		// rather than failing the whole feed over invalid trailing bytes.
		return body, nil
	}

	return body, nil
}

func xmlDeclarationCharset(body []byte) string {
	head := body
	if len(head) > 200 {
		head = head[:200]
	}
	idx := bytes.Index(head, []byte("encoding=\""))
	if idx < 0 {
		return ""
	}
	rest := head[idx+len("encoding=\""):]
	end := bytes.IndexByte(rest, '"')
	if end < 0 {
		return ""
	}
	return string(rest[:end])
}

func transcode(body []byte, encodingName string) ([]byte, error) {
	reader, err := charset.NewReaderLabel(encodingName, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rssfeed: unknown charset %q: %w", encodingName, err)
	}
	return io.ReadAll(reader)
}

func (p *RSSFeedProvider) fetch(ctx context.Context) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("rssfeed: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("rssfeed: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("rssfeed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("rssfeed: read body: %w", err)
	}

	return body, resp.Header.Get("Content-Type"), nil
}

func (p *RSSFeedProvider) Generate(ctx context.Context) ([]Message, error) {
	body, contentType, err := p.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("rssfeed provider %s: %w", p.name, err)
	}

	decoded, err := decodeToUTF8(body, contentType)
	if err != nil {
		return nil, fmt.Errorf("rssfeed provider %s: transcode: %w", p.name, err)
	}

	var feed rssFeed
	if err := xml.Unmarshal(decoded, &feed); err != nil {
		return nil, fmt.Errorf("rssfeed provider %s: parse feed: %w", p.name, err)
	}

	items := feed.Channel.Items
	if len(items) == 0 {
		items = feed.Entries
	}

	if err := p.cache.Reload(); err != nil {
		return nil, fmt.Errorf("rssfeed provider %s: reload cache: %w", p.name, err)
	}

	var messages []Message
	for _, item := range items {
		id := item.id()
		if id == "" || p.cache.Contains(id) {
			continue
		}
		messages = append(messages, Message{Text: item.Title, SourceID: id})
	}

	return messages, nil
}
