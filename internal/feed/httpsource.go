package feed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harborchat/harbor/internal/domain"
)

const maxFeedBody = 4 << 20

// HTTPSource fetches external feeds over HTTP and normalizes them into
// FeedItems. JSON Feed and RSS 2.0 are recognized; the body, not the
// Content-Type header, decides which, since feeds routinely ship with
// wrong or generic content types.
type HTTPSource struct {
	client *http.Client
}

func NewHTTPSource(timeout time.Duration) *HTTPSource {
	return &HTTPSource{client: &http.Client{Timeout: timeout}}
}

type jsonFeed struct {
	Items []struct {
		ID          string    `json:"id"`
		URL         string    `json:"url"`
		Title       string    `json:"title"`
		Summary     string    `json:"summary"`
		DatePublish time.Time `json:"date_published"`
	} `json:"items"`
}

type rssFeed struct {
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			GUID        string `xml:"guid"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

func (s *HTTPSource) Fetch(ctx context.Context, feedURL string) ([]domain.FeedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		return nil, fmt.Errorf("read feed body: %w", err)
	}

	trimmed := strings.TrimLeftFunc(string(body), func(r rune) bool { return r == ' ' || r == '\n' || r == '\r' || r == '\t' })
	if strings.HasPrefix(trimmed, "{") {
		return parseJSONFeed(body)
	}
	return parseRSS(body)
}

func parseJSONFeed(body []byte) ([]domain.FeedItem, error) {
	var f jsonFeed
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("parse json feed: %w", err)
	}
	items := make([]domain.FeedItem, 0, len(f.Items))
	for _, it := range f.Items {
		items = append(items, domain.FeedItem{
			Title:       it.Title,
			Link:        it.URL,
			GUID:        it.ID,
			Summary:     it.Summary,
			PublishedAt: it.DatePublish,
		})
	}
	return items, nil
}

func parseRSS(body []byte) ([]domain.FeedItem, error) {
	var f rssFeed
	if err := xml.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("parse rss feed: %w", err)
	}
	items := make([]domain.FeedItem, 0, len(f.Channel.Items))
	for _, it := range f.Channel.Items {
		var published time.Time
		for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
			if t, err := time.Parse(layout, it.PubDate); err == nil {
				published = t
				break
			}
		}
		items = append(items, domain.FeedItem{
			Title:       it.Title,
			Link:        it.Link,
			GUID:        it.GUID,
			Summary:     it.Description,
			PublishedAt: published,
		})
	}
	return items, nil
}
