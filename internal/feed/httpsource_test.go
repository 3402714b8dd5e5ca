package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchJSONFeed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"version": "https://jsonfeed.org/version/1.1",
			"items": [
				{"id": "1", "url": "https://example.com/1", "title": "first", "date_published": "2026-03-14T09:00:00Z"},
				{"id": "2", "url": "https://example.com/2", "title": "second"}
			]
		}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(5 * time.Second)
	items, err := src.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].Title)
	assert.Equal(t, "https://example.com/1", items[0].Link)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC), items[0].PublishedAt)
}

func TestFetchRSS(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>releases</title>
    <item>
      <title>v1.0</title>
      <link>https://example.com/releases/1</link>
      <guid>rel-1</guid>
      <pubDate>Sat, 14 Mar 2026 09:00:00 +0000</pubDate>
    </item>
  </channel>
</rss>`))
	}))
	defer srv.Close()

	src := NewHTTPSource(5 * time.Second)
	items, err := src.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "v1.0", items[0].Title)
	assert.Equal(t, "rel-1", items[0].GUID)
	assert.False(t, items[0].PublishedAt.IsZero())
}

func TestFetchNonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewHTTPSource(5 * time.Second)
	_, err := src.Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
}
